package utils

import (
	"crypto/rand"
	"encoding/hex"
	"strconv"
	"time"
)

// GenerateID 生成基于时间戳的ID
func GenerateID() int64 {
	return time.Now().UnixNano()
}

// ShortID 生成16位十六进制随机ID，用于文件名和掩码ID
func ShortID() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		// 随机源不可用时退回时间戳
		return strconv.FormatInt(GenerateID(), 16)
	}
	return hex.EncodeToString(b[:])
}
