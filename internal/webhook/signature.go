package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strings"
)

// VerifySignature проверяет подлинность тела уведомления: HMAC-SHA256 поверх
// сырых байтов запроса, сравнение за константное время. Заголовок принимается
// в hex или base64, опционально с префиксом "sha256=". Любая проблема
// (пустой заголовок, кривая кодировка, несовпадение длины) даёт false;
// функция никогда не паникует и не возвращает ошибок.
//
// Важно: проверять нужно именно сырые байты запроса — повторная сериализация
// JSON ломает подпись.
func VerifySignature(raw []byte, header, secret string) bool {
	header = strings.TrimSpace(header)
	if header == "" || secret == "" {
		return false
	}
	header = strings.TrimPrefix(header, "sha256=")

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(raw)
	expected := mac.Sum(nil)

	for _, decoded := range decodeSignature(header) {
		// hmac.Equal — константное время, длины сравнивает сам.
		if hmac.Equal(decoded, expected) {
			return true
		}
	}
	return false
}

// decodeSignature пробует все поддерживаемые кодировки заголовка.
func decodeSignature(header string) [][]byte {
	var decoded [][]byte
	if b, err := hex.DecodeString(header); err == nil {
		decoded = append(decoded, b)
	}
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	} {
		if b, err := enc.DecodeString(header); err == nil {
			decoded = append(decoded, b)
		}
	}
	return decoded
}
