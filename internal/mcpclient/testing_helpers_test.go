package mcpclient

import (
	"bufio"
	"strings"
)

func newBufReaderFromString(s string) *bufio.Reader {
	return bufio.NewReader(strings.NewReader(s))
}
