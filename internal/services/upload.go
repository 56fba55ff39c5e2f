package services

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/Lllllllleong/contractflow/internal/apperr"
	"github.com/Lllllllleong/contractflow/internal/models"
)

// UploadMetadata describes the file a caller submitted.
type UploadMetadata struct {
	FileName string
	MIMEType string
}

// validatedUpload is an upload that passed every check.
type validatedUpload struct {
	FileName  string
	FileType  string
	MIMEType  string
	Size      int64
	Hash      string
	PageCount int
}

// validateUpload checks an upload without touching any state.
func validateUpload(ownerID string, data []byte, meta UploadMetadata, maxBytes int64) (*validatedUpload, error) {
	const op = "Upload"
	if strings.TrimSpace(ownerID) == "" {
		return nil, apperr.Validation(op, "An owner is required.")
	}
	if len(data) == 0 {
		return nil, apperr.Validation(op, "Please select a file.")
	}
	if int64(len(data)) > maxBytes {
		return nil, apperr.Validation(op, fmt.Sprintf("File size must not exceed %d MB.", maxBytes>>20))
	}

	fileName := path.Base(strings.ReplaceAll(strings.TrimSpace(meta.FileName), "\\", "/"))
	if fileName == "." || fileName == "/" {
		fileName = ""
	}
	fileType, ok := models.DetectFileType(fileName, meta.MIMEType)
	if !ok {
		return nil, apperr.Validation(op, "Only PDF, DOC, DOCX and TXT files can be uploaded.")
	}
	mimeType, _ := models.MIMETypeFor(fileType)
	// Extractors route on the stored name, so it must carry the detected type.
	switch {
	case fileName == "":
		fileName = "document." + fileType
	default:
		if _, named := models.DetectFileType(fileName, ""); !named {
			fileName += "." + fileType
		}
	}

	sum := sha256.Sum256(data)
	v := &validatedUpload{
		FileName: fileName,
		FileType: fileType,
		MIMEType: mimeType,
		Size:     int64(len(data)),
		Hash:     hex.EncodeToString(sum[:]),
	}

	if fileType == "pdf" {
		pages, err := pdfPageCount(data)
		if err != nil {
			return nil, apperr.Wrap(apperr.CategoryValidation, op, "The PDF file is damaged or not a valid PDF.", err)
		}
		v.PageCount = pages
	}
	return v, nil
}

// pdfPageCount validates the PDF structure and returns its page count.
func pdfPageCount(data []byte) (int, error) {
	return api.PageCount(bytes.NewReader(data), relaxedPDFConfig())
}

func relaxedPDFConfig() *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

// blobPath builds the storage path <owner>/<unixmillis>-<id>.<ext>.
func blobPath(ownerID, id, fileType string, now time.Time) string {
	return fmt.Sprintf("%s/%d-%s.%s", ownerID, now.UnixMilli(), id, fileType)
}
