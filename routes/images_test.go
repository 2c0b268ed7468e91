package routes

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"image-gallery-platform/services"
)

func newUploadRequest(t *testing.T, userID, title, filename, contentType string) *http.Request {
	t.Helper()

	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	require.NoError(t, w.WriteField("title", title))
	require.NoError(t, w.WriteField("userId", userID))

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="media"; filename=%q`, filename))
	header.Set("Content-Type", contentType)
	part, err := w.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write([]byte("file-bytes"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/image", body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func TestHandleCreateImage_RejectsNonImageUpload(t *testing.T) {
	gin.SetMode(gin.TestMode)
	userID := primitive.NewObjectID().Hex()

	router := gin.New()
	router.Use(func(c *gin.Context) { c.Set("user_id", userID) })
	// Collaborators are never reached: the mime check fires before the
	// service sees the file.
	router.POST("/image", HandleCreateImage(services.NewImageService(nil, nil, nil)))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, newUploadRequest(t, userID, "quarterly report", "report.pdf", "application/pdf"))

	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "upload_rejected", resp["error_code"])
	assert.Contains(t, resp["message"], "application/pdf")
}

func TestHandleCreateImage_ForbidsForeignUserID(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(func(c *gin.Context) { c.Set("user_id", primitive.NewObjectID().Hex()) })
	router.POST("/image", HandleCreateImage(services.NewImageService(nil, nil, nil)))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, newUploadRequest(t, primitive.NewObjectID().Hex(), "sunset", "sunset.png", "image/png"))

	assert.Equal(t, http.StatusForbidden, rec.Code)
}
