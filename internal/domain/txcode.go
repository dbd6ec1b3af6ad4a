package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewTransactionCode builds a globally unique, time-derived code such as
// DSP-20260901143005-1a2b3c4d. The timestamp keeps codes sortable in ops
// queries; the uuid fragment keeps them unique under concurrency.
func NewTransactionCode(prefix string) string {
	return fmt.Sprintf(
		"%s-%s-%s",
		prefix,
		time.Now().UTC().Format("20060102150405"),
		strings.Split(uuid.NewString(), "-")[0],
	)
}
