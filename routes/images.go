package routes

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"image-gallery-platform/middleware"
	"image-gallery-platform/models"
	"image-gallery-platform/services"
	"image-gallery-platform/utils"
)

// SetupImageRoutes registers the gallery API surface. Every route requires
// authentication; handlers additionally verify that the authenticated user is
// the owner referenced by the request.
func SetupImageRoutes(router *gin.Engine, imageService *services.ImageService, authMiddleware *middleware.AuthMiddleware) {
	protected := router.Group("/")
	protected.Use(authMiddleware.RequireAuth())

	protected.POST("/image", HandleCreateImage(imageService))
	protected.POST("/images", HandleCreateImages(imageService))
	protected.GET("/image/user/:userId", HandleGetUserImages(imageService))
	protected.PUT("/image/order", HandleUpdateOrder(imageService))
	protected.PATCH("/image/:imageId", HandleRenameImage(imageService))
	protected.DELETE("/image/:imageId", HandleDeleteImage(imageService))
}

// HandleCreateImage handles single image upload
func HandleCreateImage(imageService *services.ImageService) gin.HandlerFunc {
	return func(c *gin.Context) {
		title := c.PostForm("title")
		if title == "" {
			utils.RespondWithBadRequest(c, "title is required", nil)
			return
		}

		ownerID, ok := requireOwner(c, c.PostForm("userId"))
		if !ok {
			return
		}

		fileHeader, err := c.FormFile("media")
		if err != nil {
			utils.RespondWithBadRequest(c, "Media file is required", nil)
			return
		}

		file, err := openUpload(fileHeader)
		if err != nil {
			respondUploadError(c, err, nil)
			return
		}
		defer file.close()

		dto, err := imageService.CreateImage(c.Request.Context(), ownerID, title, file.upload)
		if err != nil {
			respondServiceError(c, err)
			return
		}

		c.JSON(http.StatusCreated, gin.H{
			"success": true,
			"message": "Successfully created image",
			"data":    dto,
		})
	}
}

// HandleCreateImages handles bulk upload: titles is a JSON array matching the
// media files one-to-one.
func HandleCreateImages(imageService *services.ImageService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ownerID, ok := requireOwner(c, c.PostForm("userId"))
		if !ok {
			return
		}

		var titles []string
		if err := json.Unmarshal([]byte(c.PostForm("titles")), &titles); err != nil {
			utils.RespondWithBadRequest(c, "titles must be a JSON array of strings", nil)
			return
		}

		form, err := c.MultipartForm()
		if err != nil {
			utils.RespondWithBadRequest(c, "Invalid multipart form", nil)
			return
		}
		fileHeaders := form.File["media"]
		if len(fileHeaders) == 0 {
			utils.RespondWithBadRequest(c, "At least one media file is required", nil)
			return
		}

		files := make([]services.UploadFile, 0, len(fileHeaders))
		opened := make([]*openedUpload, 0, len(fileHeaders))
		defer func() {
			for _, o := range opened {
				o.close()
			}
		}()

		for _, fh := range fileHeaders {
			o, err := openUpload(fh)
			if err != nil {
				respondUploadError(c, err, gin.H{"file": fh.Filename})
				return
			}
			opened = append(opened, o)
			files = append(files, o.upload)
		}

		dtos, err := imageService.CreateImages(c.Request.Context(), ownerID, titles, files)
		if err != nil {
			respondServiceError(c, err)
			return
		}

		c.JSON(http.StatusCreated, gin.H{
			"success": true,
			"message": "Successfully created images",
			"data":    dtos,
		})
	}
}

// HandleGetUserImages returns one page of the user's images in display order
func HandleGetUserImages(imageService *services.ImageService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ownerID, ok := requireOwner(c, c.Param("userId"))
		if !ok {
			return
		}

		page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
		if err != nil || page < 1 {
			page = 1
		}
		limit, err := strconv.Atoi(c.DefaultQuery("limit", "10"))
		if err != nil || limit < 1 {
			limit = 10
		}
		if limit > 100 {
			limit = 100
		}

		result, err := imageService.GetImagesInOrder(c.Request.Context(), ownerID, page, limit)
		if err != nil {
			respondServiceError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"message": "Images fetched in user order",
			"data":    result,
		})
	}
}

// HandleUpdateOrder replaces the user's display order
func HandleUpdateOrder(imageService *services.ImageService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.UpdateOrderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.RespondWithBadRequest(c, "userId and imageIds[] are required", gin.H{"error": err.Error()})
			return
		}

		ownerID, ok := requireOwner(c, req.UserID)
		if !ok {
			return
		}

		imageIDs := make([]primitive.ObjectID, 0, len(req.ImageIDs))
		for _, raw := range req.ImageIDs {
			id, err := primitive.ObjectIDFromHex(raw)
			if err != nil {
				utils.RespondWithBadRequest(c, "Invalid image id", gin.H{"id": raw})
				return
			}
			imageIDs = append(imageIDs, id)
		}

		if err := imageService.UpdateOrder(c.Request.Context(), ownerID, imageIDs); err != nil {
			respondServiceError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"message": "Image order updated",
		})
	}
}

// HandleRenameImage updates the title and optionally replaces the stored file
func HandleRenameImage(imageService *services.ImageService) gin.HandlerFunc {
	return func(c *gin.Context) {
		imageID, err := primitive.ObjectIDFromHex(c.Param("imageId"))
		if err != nil {
			utils.RespondWithBadRequest(c, "Invalid image id", nil)
			return
		}

		title := c.PostForm("title")
		userID := c.PostForm("userId")
		if title == "" || userID == "" {
			// Also accept a JSON body when no file is attached
			var req models.RenameImageRequest
			if err := c.ShouldBindJSON(&req); err != nil {
				utils.RespondWithBadRequest(c, "Valid title and userId are required", nil)
				return
			}
			title = req.Title
			userID = req.UserID
		}

		ownerID, ok := requireOwner(c, userID)
		if !ok {
			return
		}

		var replacement *services.UploadFile
		if fileHeader, err := c.FormFile("media"); err == nil {
			o, err := openUpload(fileHeader)
			if err != nil {
				respondUploadError(c, err, nil)
				return
			}
			defer o.close()
			replacement = &o.upload
		}

		dto, err := imageService.RenameImage(c.Request.Context(), imageID, ownerID, title, replacement)
		if err != nil {
			respondServiceError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"message": "Image updated successfully",
			"data":    dto,
		})
	}
}

// HandleDeleteImage removes the image record, its order entry and the object
func HandleDeleteImage(imageService *services.ImageService) gin.HandlerFunc {
	return func(c *gin.Context) {
		imageID, err := primitive.ObjectIDFromHex(c.Param("imageId"))
		if err != nil {
			utils.RespondWithBadRequest(c, "Invalid image id", nil)
			return
		}

		requesterID, ok := authenticatedUser(c)
		if !ok {
			return
		}

		if err := imageService.DeleteImage(c.Request.Context(), imageID, requesterID); err != nil {
			respondServiceError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"message": "Image deleted successfully",
		})
	}
}

type openedUpload struct {
	upload services.UploadFile
	file   multipart.File
}

func (o *openedUpload) close() {
	if o.file != nil {
		o.file.Close()
	}
}

func openUpload(fh *multipart.FileHeader) (*openedUpload, error) {
	contentType := fh.Header.Get("Content-Type")
	if !utils.IsValidImageType(contentType) {
		// Reject before reading the body so oversized non-image uploads
		// never reach the gateway.
		return nil, fmt.Errorf("%w: %s", services.ErrUnsupportedType, contentType)
	}

	src, err := fh.Open()
	if err != nil {
		return nil, err
	}
	return &openedUpload{
		file: src,
		upload: services.UploadFile{
			Reader:       src,
			Size:         fh.Size,
			MimeType:     fh.Header.Get("Content-Type"),
			OriginalName: fh.Filename,
		},
	}, nil
}

// authenticatedUser reads the user id set by the auth middleware.
func authenticatedUser(c *gin.Context) (primitive.ObjectID, bool) {
	raw, exists := c.Get("user_id")
	if !exists {
		utils.RespondWithUnauthorized(c, "User not found in request context")
		return primitive.NilObjectID, false
	}

	id, err := primitive.ObjectIDFromHex(raw.(string))
	if err != nil {
		utils.RespondWithUnauthorized(c, "Invalid user id in token")
		return primitive.NilObjectID, false
	}
	return id, true
}

// requireOwner parses the target user id and verifies it is the
// authenticated user. Every read and write path is scoped this way - there
// is no cross-user access.
func requireOwner(c *gin.Context, rawUserID string) (primitive.ObjectID, bool) {
	ownerID, err := primitive.ObjectIDFromHex(rawUserID)
	if err != nil {
		utils.RespondWithBadRequest(c, "Invalid userId", nil)
		return primitive.NilObjectID, false
	}

	requesterID, ok := authenticatedUser(c)
	if !ok {
		return primitive.NilObjectID, false
	}
	if requesterID != ownerID {
		utils.RespondWithForbidden(c, "You can only manage your own images")
		return primitive.NilObjectID, false
	}
	return ownerID, true
}

// respondUploadError distinguishes a policy rejection from a plain read
// failure when opening a multipart file.
func respondUploadError(c *gin.Context, err error, details interface{}) {
	if errors.Is(err, services.ErrUploadRejected) {
		utils.RespondWithError(c, http.StatusBadRequest, "upload_rejected", err.Error(), details)
		return
	}
	utils.RespondWithBadRequest(c, "Failed to read uploaded file", details)
}

// respondServiceError maps service errors onto the HTTP error taxonomy.
func respondServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrDuplicateTitle):
		utils.RespondWithConflict(c, "duplicate_title", err.Error())
	case errors.Is(err, services.ErrCountMismatch):
		utils.RespondWithError(c, http.StatusBadRequest, "count_mismatch", err.Error(), nil)
	case errors.Is(err, services.ErrNotFound):
		utils.RespondWithNotFound(c, err.Error())
	case errors.Is(err, services.ErrForbidden):
		utils.RespondWithForbidden(c, err.Error())
	case errors.Is(err, services.ErrInvalidOrder):
		utils.RespondWithError(c, http.StatusBadRequest, "invalid_order", err.Error(), nil)
	case errors.Is(err, services.ErrOrderConflict):
		utils.RespondWithConflict(c, "order_conflict", "Order list changed concurrently, please retry")
	case errors.Is(err, services.ErrUploadRejected):
		utils.RespondWithError(c, http.StatusBadRequest, "upload_rejected", err.Error(), nil)
	default:
		utils.RespondWithInternalError(c, "An unexpected error occurred", nil)
	}
}
