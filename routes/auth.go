package routes

import (
	"context"
	"net/http"
	"time"

	"image-gallery-platform/internal/auth"
	"image-gallery-platform/internal/config"
	"image-gallery-platform/middleware"
	"image-gallery-platform/models"
	"image-gallery-platform/utils"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

func SetupAuthRoutes(router *gin.Engine, cfg *config.Config, mongoClient *mongo.Client, rdb *redis.Client) {
	authGroup := router.Group("/auth")

	db := mongoClient.Database(cfg.DBName)
	usersCollection := db.Collection("users")
	secureCookies := cfg.GinMode == "release"

	// Register endpoint
	authGroup.POST("/register", func(c *gin.Context) {
		var req models.RegisterRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.RespondWithBadRequest(c, "Invalid request data", gin.H{"error": err.Error()})
			return
		}

		// Check if email already registered
		var existingUser models.User
		if err := usersCollection.FindOne(context.Background(), bson.M{"email": req.Email}).Decode(&existingUser); err == nil {
			utils.RespondWithConflict(c, "email_exists", "Email already registered")
			return
		}

		hashedPassword, err := utils.HashPassword(req.Password, cfg.BcryptCost)
		if err != nil {
			utils.RespondWithInternalError(c, "Failed to process password", nil)
			return
		}

		user := models.User{
			Name:         req.Name,
			Email:        req.Email,
			PasswordHash: hashedPassword,
			CreatedAt:    time.Now(),
			UpdatedAt:    time.Now(),
		}

		result, err := usersCollection.InsertOne(context.Background(), user)
		if err != nil {
			utils.RespondWithInternalError(c, "Failed to create user", nil)
			return
		}

		userID := result.InsertedID.(primitive.ObjectID).Hex()
		tokenPair, err := auth.IssueTokenPair(userID, rdb)
		if err != nil {
			utils.RespondWithInternalError(c, "Failed to generate tokens", nil)
			return
		}

		middleware.SetTokenCookies(c, tokenPair, secureCookies)
		c.JSON(http.StatusCreated, models.TokenPairResponse{
			AccessToken:  tokenPair.AccessToken,
			RefreshToken: tokenPair.RefreshToken,
			AccessExp:    tokenPair.AccessExp,
			RefreshExp:   tokenPair.RefreshExp,
			User: models.UserInfo{
				ID:    userID,
				Name:  req.Name,
				Email: req.Email,
			},
		})
	})

	// Login endpoint
	authGroup.POST("/login", func(c *gin.Context) {
		var req models.LoginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.RespondWithBadRequest(c, "Invalid request data", gin.H{"error": err.Error()})
			return
		}

		var user models.User
		if err := usersCollection.FindOne(context.Background(), bson.M{"email": req.Email}).Decode(&user); err != nil {
			utils.RespondWithError(c, http.StatusUnauthorized, "invalid_credentials", "Invalid email or password", nil)
			return
		}

		if !utils.CheckPassword(req.Password, user.PasswordHash) {
			utils.RespondWithError(c, http.StatusUnauthorized, "invalid_credentials", "Invalid email or password", nil)
			return
		}

		tokenPair, err := auth.IssueTokenPair(user.ID.Hex(), rdb)
		if err != nil {
			utils.RespondWithInternalError(c, "Failed to generate tokens", nil)
			return
		}

		middleware.SetTokenCookies(c, tokenPair, secureCookies)
		c.JSON(http.StatusOK, models.TokenPairResponse{
			AccessToken:  tokenPair.AccessToken,
			RefreshToken: tokenPair.RefreshToken,
			AccessExp:    tokenPair.AccessExp,
			RefreshExp:   tokenPair.RefreshExp,
			User: models.UserInfo{
				ID:    user.ID.Hex(),
				Name:  user.Name,
				Email: user.Email,
			},
		})
	})

	// Refresh token endpoint
	authGroup.POST("/refresh", func(c *gin.Context) {
		refreshToken, err := c.Cookie("refresh_token")
		if err != nil || refreshToken == "" {
			if authHeader := c.GetHeader("Authorization"); authHeader != "" {
				refreshToken = middleware.ExtractTokenFromHeader(authHeader)
			}
		}
		if refreshToken == "" {
			utils.RespondWithUnauthorized(c, "No refresh token provided")
			return
		}

		claims, err := auth.ValidateRefreshToken(refreshToken, rdb)
		if err != nil {
			utils.RespondWithError(c, http.StatusForbidden, "invalid_refresh_token", "Invalid or expired refresh token", nil)
			return
		}

		// Rotate the refresh token
		if err := auth.RevokeToken(claims.ID, true, rdb); err != nil {
			utils.RespondWithInternalError(c, "Failed to rotate tokens", nil)
			return
		}

		tokenPair, err := auth.IssueTokenPair(claims.UserID, rdb)
		if err != nil {
			utils.RespondWithInternalError(c, "Failed to generate tokens", nil)
			return
		}

		middleware.SetTokenCookies(c, tokenPair, secureCookies)
		c.JSON(http.StatusOK, gin.H{
			"success":      true,
			"access_token": tokenPair.AccessToken,
			"access_exp":   tokenPair.AccessExp,
		})
	})

	// Logout endpoint - revokes all tokens for the user
	authGroup.POST("/logout", func(c *gin.Context) {
		tokenString := ""
		if authHeader := c.GetHeader("Authorization"); authHeader != "" {
			tokenString = middleware.ExtractTokenFromHeader(authHeader)
		}
		if tokenString == "" {
			if cookie, err := c.Cookie("access_token"); err == nil {
				tokenString = cookie
			}
		}

		if claims, err := auth.ValidateAccessToken(tokenString, rdb); err == nil {
			if err := auth.RevokeAllUserTokens(claims.UserID, rdb); err != nil {
				utils.RespondWithInternalError(c, "Failed to revoke tokens", nil)
				return
			}
		}

		c.SetCookie("access_token", "", -1, "/", "", secureCookies, true)
		c.SetCookie("refresh_token", "", -1, "/", "", secureCookies, true)
		c.JSON(http.StatusOK, gin.H{"success": true})
	})
}
