package mimetypes

import (
	"mime"
	"path/filepath"
	"strings"
)

type MIME string

const (
	Unknown   MIME = "unknown"
	TextPlain MIME = "text/plain"
	TextHTML  MIME = "text/html"

	ApplicationPDF  MIME = "application/pdf"
	ApplicationZIP  MIME = "application/zip"
	ApplicationJSON MIME = "application/json"

	ImagePNG  MIME = "image/png"
	ImageJPEG MIME = "image/jpeg"
	ImageGIF  MIME = "image/gif"
	ImageTIFF MIME = "image/tiff"

	VideoMPEG MIME = "video/mpeg"
)

// ToMIME normalizes a raw detected media type, dropping its parameters.
func ToMIME(detected string) MIME {
	mt, _, err := mime.ParseMediaType(detected)
	if err != nil {
		return Unknown
	}
	return MIME(mt)
}

// aliases groups the extensions that historically name the same format.
// A user-supplied "photo.jpg" must be accepted for a detected image/jpeg
// even when the detector's canonical extension is ".jpeg".
var aliases = map[string][]string{
	".jpg":  {".jpeg"},
	".jpeg": {".jpg"},
	".tif":  {".tiff"},
	".tiff": {".tif"},
	".mpg":  {".mpeg"},
	".mpeg": {".mpg"},
	".htm":  {".html"},
	".html": {".htm"},
	".mid":  {".midi"},
	".midi": {".mid"},
}

// ExtensionConsistent reports whether the extension of the supplied file name
// is plausible for the detected type. detectedExt comes from the sniffing
// library (e.g. ".jpeg"); an empty detected extension accepts anything, since
// text formats have no canonical one.
func ExtensionConsistent(fileName, detectedExt string) bool {
	if detectedExt == "" {
		return true
	}
	ext := strings.ToLower(filepath.Ext(fileName))
	detectedExt = strings.ToLower(detectedExt)
	if ext == detectedExt {
		return true
	}
	for _, alias := range aliases[detectedExt] {
		if ext == alias {
			return true
		}
	}
	return false
}

// Allowed reports whether the detected type belongs to the allow-list.
func Allowed(detected MIME, allowList []string) bool {
	if detected == Unknown {
		return false
	}
	for _, allowed := range allowList {
		if strings.EqualFold(string(detected), allowed) {
			return true
		}
	}
	return false
}
