package syncer

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"roadworks-hub/core/utils"
)

const photoURLPrefix = "/uploads/signalements/"

// savePhoto writes an inlined base64 photo for report id into dir and
// returns its public URL.
func savePhoto(dir string, reportID int64, photo remotePhoto) (string, error) {
	data := strings.TrimSpace(photo.PixelData)
	if i := strings.Index(data, ";base64,"); i >= 0 && strings.HasPrefix(data, "data:") {
		if photo.MimeType == "" {
			photo.MimeType = strings.TrimPrefix(data[:i], "data:")
		}
		data = data[i+len(";base64,"):]
	}
	if data == "" {
		return "", errors.New("empty photo payload")
	}
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		if raw, err = base64.RawStdEncoding.DecodeString(data); err != nil {
			return "", fmt.Errorf("decode photo: %w", err)
		}
	}
	ext := ".jpg"
	if strings.EqualFold(strings.TrimSpace(photo.MimeType), "image/png") {
		ext = ".png"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	name := fmt.Sprintf("sig_%d_remote_%s%s", reportID, utils.NewFileToken(), ext)
	if err := os.WriteFile(filepath.Join(dir, name), raw, 0o644); err != nil {
		return "", err
	}
	return photoURLPrefix + name, nil
}
