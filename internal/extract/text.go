package extract

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

type plainText struct{}

func (plainText) Name() string {
	return "text"
}

func (plainText) Extract(data []byte) (string, error) {
	if !utf8.Valid(data) {
		return "", fmt.Errorf("not valid utf-8")
	}
	return strings.ReplaceAll(string(data), "\r\n", "\n"), nil
}

func init() {
	register(plainText{},
		[]string{"txt", "log", "csv"},
		[]string{"text/plain", "text/csv"},
	)
}
