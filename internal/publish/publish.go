//go:generate mockgen -source=publish.go -destination=../../mocks/publish/mock_publish.go -package=mock_publish github.com/rudderlabs/bulk-delete/internal/publish Publisher

package publish

import (
	"context"
)

// Publisher delivers a finished local file to a remote store.
type Publisher interface {
	Publish(ctx context.Context, localPath string) error
}

type nop struct{}

func (nop) Publish(context.Context, string) error { return nil }

// NOP keeps the output local.
var NOP Publisher = nop{}
