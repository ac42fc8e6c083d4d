package poesy

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/p-blackswan/poesy/internal/api"
	perrors "github.com/p-blackswan/poesy/internal/errors"
	"github.com/p-blackswan/poesy/pkg/shape"
)

// ImageField is the multipart field the upload endpoint reads.
const ImageField = "image"

// UploadedImage is where an uploaded image can be fetched.
type UploadedImage struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

var decodeUploadedImage = shape.Decode[UploadedImage](shape.Object(
	shape.Field("id", shape.String),
	shape.Field("url", shape.String),
))

var imageExtensions = map[string]bool{".jpg": true, ".jpeg": true, ".png": true}

// ValidImageName reports whether filename has an accepted image extension.
func ValidImageName(filename string) bool {
	return imageExtensions[strings.ToLower(filepath.Ext(filename))]
}

// UploadImage sends content as a multipart upload named filename.
func (c *Client) UploadImage(ctx context.Context, filename string, content io.Reader) (UploadedImage, error) {
	if !ValidImageName(filename) {
		return UploadedImage{}, fmt.Errorf("%w: invalid image file %q", perrors.ErrInvalidInput, filename)
	}
	return api.Post(ctx, c.api, "/api/image/upload", nil, decodeUploadedImage,
		api.Form(api.FormFile{Field: ImageField, Filename: filepath.Base(filename), Content: content}))
}
