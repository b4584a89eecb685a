package utils

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"io"
	"os"
)

// FileMD5 计算文件MD5
func FileMD5(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hash := md5.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}

	return hex.EncodeToString(hash.Sum(nil)), nil
}

// BytesMD5 计算字节数组MD5
func BytesMD5(data []byte) string {
	hash := md5.New()
	hash.Write(data)
	return hex.EncodeToString(hash.Sum(nil))
}

// DigestJSON 计算任意值 JSON 序列化后的MD5，用作缓存键的一部分。
// map 的键在序列化时有序，因此相同内容得到相同摘要
func DigestJSON(values ...any) (string, error) {
	hash := md5.New()
	enc := json.NewEncoder(hash)
	for _, v := range values {
		if err := enc.Encode(v); err != nil {
			return "", err
		}
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}
