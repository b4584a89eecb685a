package utils

import (
	"encoding/base64"
	"strings"
)

// DataURI 将编码后的图像包装为 data URI
func DataURI(mime string, data []byte) string {
	var b strings.Builder
	b.Grow(len(mime) + 13 + base64.StdEncoding.EncodedLen(len(data)))
	b.WriteString("data:")
	b.WriteString(mime)
	b.WriteString(";base64,")
	b.WriteString(base64.StdEncoding.EncodeToString(data))
	return b.String()
}
