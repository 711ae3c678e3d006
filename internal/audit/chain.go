package audit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// computeRowHash computes HMAC-SHA256(key, prevHash|ts|node|scope|action|name|pid|details|success).
// Returns "" when key is nil (chain disabled).
func computeRowHash(key []byte, prevHash string, e Event) string {
	if len(key) == 0 {
		return ""
	}
	msg := fmt.Sprintf("%s|%d|%s|%s|%s|%s|%s|%s|%v",
		prevHash,
		e.Timestamp,
		e.Node,
		e.Scope,
		e.Action,
		e.Name,
		e.Pid,
		e.Details,
		e.Success,
	)
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(msg))
	return hex.EncodeToString(mac.Sum(nil))
}
