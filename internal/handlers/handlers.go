package handlers

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/example/fishid/internal/blobstore"
	"github.com/example/fishid/internal/catchstore"
	"github.com/example/fishid/internal/classifier"
	"github.com/example/fishid/internal/preprocess"
	"github.com/example/fishid/internal/usecase"
)

// MaxUploadSize bounds accepted image payloads.
const MaxUploadSize = 10 << 20

type commitRequest struct {
	Species    string  `form:"species"`
	Confidence float64 `form:"confidence"`
}

type removeRequest struct {
	Indices []int `json:"indices"`
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, uc *usecase.IdentifyUseCase) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.POST("/identify", func(c *gin.Context) {
		data, ok := readImageUpload(c, true)
		if !ok {
			return
		}

		requestID, predictions, err := uc.Identify(c.Request.Context(), data)
		if err != nil {
			switch {
			case errors.Is(err, preprocess.ErrInvalidImage):
				c.JSON(http.StatusBadRequest, gin.H{"error": "image could not be decoded"})
			case errors.Is(err, classifier.ErrModelUnavailable):
				c.JSON(http.StatusServiceUnavailable, gin.H{"error": "model unavailable"})
			default:
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			}
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"request_id":  requestID,
			"predictions": predictions,
		})
	})

	router.GET("/catches", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"catches": uc.ListCatches()})
	})

	router.POST("/catches", func(c *gin.Context) {
		var req commitRequest
		if err := c.ShouldBind(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid form data"})
			return
		}
		if strings.TrimSpace(req.Species) == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "species is required"})
			return
		}

		imageBytes, ok := readImageUpload(c, false)
		if !ok {
			return
		}

		record, err := uc.CommitCatch(c.Request.Context(), req.Species, req.Confidence, imageBytes)
		if err != nil {
			if errors.Is(err, catchstore.ErrPersistenceFailed) {
				// The in-memory catalog is authoritative; the record was created.
				c.JSON(http.StatusCreated, gin.H{
					"catch":               record,
					"persistence_warning": err.Error(),
				})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusCreated, gin.H{"catch": record})
	})

	router.DELETE("/catches", func(c *gin.Context) {
		var req removeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}

		if err := uc.RemoveCatches(c.Request.Context(), req.Indices); err != nil {
			switch {
			case errors.Is(err, catchstore.ErrIndexOutOfRange):
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			case errors.Is(err, catchstore.ErrPersistenceFailed):
				c.JSON(http.StatusOK, gin.H{
					"removed":             true,
					"persistence_warning": err.Error(),
				})
			default:
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			}
			return
		}

		c.JSON(http.StatusOK, gin.H{"removed": true})
	})

	router.GET("/catches/images/:key", func(c *gin.Context) {
		data, err := uc.CatchImage(c.Param("key"))
		if err != nil {
			if errors.Is(err, blobstore.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "image not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.Data(http.StatusOK, "image/jpeg", data)
	})

	router.GET("/metrics/summary", func(c *gin.Context) {
		c.JSON(http.StatusOK, uc.GetMetricsSummary())
	})
}

// readImageUpload fetches the multipart "image" field. When required is false
// a missing file yields (nil, true) so the caller can proceed without one.
// On any rejected upload the response has already been written.
func readImageUpload(c *gin.Context, required bool) ([]byte, bool) {
	file, err := c.FormFile("image")
	if err != nil {
		if !required {
			return nil, true
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "image file is required"})
		return nil, false
	}

	if file.Size > MaxUploadSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image exceeds upload limit"})
		return nil, false
	}

	if !acceptableImageType(file) {
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "unsupported content type"})
		return nil, false
	}

	src, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unable to open image"})
		return nil, false
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read image"})
		return nil, false
	}
	return data, true
}

func acceptableImageType(file *multipart.FileHeader) bool {
	contentType := file.Header.Get("Content-Type")
	if contentType == "" {
		return true
	}
	return strings.HasPrefix(contentType, "image/") ||
		contentType == "application/octet-stream"
}
