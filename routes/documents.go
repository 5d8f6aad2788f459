package routes

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"slices"
	"strings"

	"lesson-content-engine/internal/queue"
	"lesson-content-engine/middleware"
	"lesson-content-engine/models"
	"lesson-content-engine/services"
	"lesson-content-engine/utils"

	"github.com/gin-gonic/gin"
)

// HandleIndexDocument stores the uploaded file and indexes it, in the worker
// when a queue is configured.
func HandleIndexDocument(deps Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		teacherID := middleware.GetTeacherID(c)
		documentID := c.Param("id")

		header, err := c.FormFile("file")
		if err != nil {
			utils.RespondWithBadRequest(c, "No file provided", nil)
			return
		}
		if header.Size > deps.Config.MaxFileSize {
			utils.RespondWithError(c, http.StatusRequestEntityTooLarge, "file_too_large",
				"File size exceeds maximum limit", gin.H{"max_size": deps.Config.MaxFileSize})
			return
		}

		mimeType := header.Header.Get("Content-Type")
		if mt, _, err := mime.ParseMediaType(mimeType); err == nil {
			mimeType = mt
		}
		if !slices.Contains(deps.Config.AllowedTypes, mimeType) {
			utils.RespondWithError(c, http.StatusUnsupportedMediaType, "invalid_file_type",
				"File type is not supported", gin.H{"mime_type": mimeType})
			return
		}

		file, err := header.Open()
		if err != nil {
			utils.RespondWithBadRequest(c, "Cannot read uploaded file", nil)
			return
		}
		buf, err := io.ReadAll(file)
		file.Close()
		if err != nil {
			utils.RespondWithBadRequest(c, "Cannot read uploaded file", nil)
			return
		}

		ctx := c.Request.Context()
		key := documentKey(teacherID, documentID, header.Filename)
		if err := deps.Blobs.Save(ctx, key, bytes.NewReader(buf), int64(len(buf))); err != nil {
			respondServiceError(c, err, "Failed to store document")
			return
		}
		doc := &models.Document{
			ID:        documentID,
			TeacherID: teacherID,
			Filename:  header.Filename,
			MimeType:  mimeType,
			FilePath:  key,
			Status:    models.StatusPending,
		}
		if err := deps.Documents.Upsert(ctx, doc); err != nil {
			respondServiceError(c, err, "Failed to register document")
			return
		}

		if deps.Queue != nil {
			taskID, err := deps.Queue.EnqueueIndex(ctx, queue.IndexDocumentPayload{
				TeacherID:   teacherID,
				DocumentID:  documentID,
				StoragePath: key,
				MimeType:    mimeType,
			})
			if err != nil {
				respondServiceError(c, err, "Failed to queue indexing")
				return
			}
			c.JSON(http.StatusAccepted, gin.H{
				"document_id": documentID,
				"status":      models.StatusPending,
				"task_id":     taskID,
			})
			return
		}

		res, err := deps.Indexer.IndexDocument(ctx, services.IndexRequest{
			DocumentID: documentID,
			TeacherID:  teacherID,
			Buffer:     buf,
			MimeType:   mimeType,
		})
		if err != nil {
			respondServiceError(c, err, "Failed to index document")
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

func HandleDeleteDocument(deps Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		teacherID := middleware.GetTeacherID(c)
		documentID := c.Param("id")
		ctx := c.Request.Context()

		if deps.Queue != nil {
			taskID, err := deps.Queue.EnqueueDelete(ctx, queue.DeleteDocumentPayload{TeacherID: teacherID, DocumentID: documentID})
			if err != nil {
				respondServiceError(c, err, "Failed to queue deletion")
				return
			}
			c.JSON(http.StatusAccepted, gin.H{"document_id": documentID, "task_id": taskID})
			return
		}

		if err := deps.Indexer.DeleteDocument(ctx, teacherID, documentID); err != nil {
			respondServiceError(c, err, "Failed to delete document")
			return
		}
		c.JSON(http.StatusOK, gin.H{"document_id": documentID, "deleted": true})
	}
}

func documentKey(teacherID, documentID, filename string) string {
	name := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	if name == "." || name == "/" {
		name = "upload"
	}
	return fmt.Sprintf("documents/%s/%s/%s", teacherID, documentID, name)
}
