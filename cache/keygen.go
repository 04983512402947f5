package cache

import (
	"crypto/md5"
	"fmt"
	"strings"
)

// compositeKey is the in-memory identity of an entry.
func compositeKey(domain, key string) string {
	return domain + "|" + key
}

// fileName converts (domain, key) into a name that is safe on any filesystem.
func fileName(domain, key string) string {
	name := sanitizeForFilename(domain) + "__" + sanitizeForFilename(key)

	// very long keys hash to avoid filesystem limits
	if len(name) > 200 {
		hash := md5.Sum([]byte(domain + "|" + key))
		return fmt.Sprintf("hash_%x.json", hash)
	}
	return name + ".json"
}

var filenameReplacer = strings.NewReplacer(
	"/", "_",
	"\\", "_",
	":", "_",
	"*", "_",
	"?", "_",
	"\"", "_",
	"<", "_",
	">", "_",
	"|", "_",
	"#", "_",
	"&", "_",
	"=", "_",
	" ", "_",
)

func sanitizeForFilename(s string) string {
	return filenameReplacer.Replace(s)
}
