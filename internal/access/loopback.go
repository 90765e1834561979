package access

import (
	"context"
	"errors"
	"fmt"

	"cosem-go/internal/cosem"
	"cosem-go/internal/dlms"
)

// ErrObjectUndefined is returned by a fetcher that has no matching object.
var ErrObjectUndefined = errors.New("access: object undefined")

// Loopback serves reads from a local collection, as a meter would answer a
// get request. It lets a client object be refreshed from a stored or
// simulated server image.
type Loopback struct {
	objects *cosem.Collection
	server  *Service
}

// NewLoopback creates a fetcher over objects.
func NewLoopback(objects *cosem.Collection, server *Service) *Loopback {
	return &Loopback{objects: objects, server: server}
}

func (l *Loopback) Fetch(ctx context.Context, id cosem.Identity, index int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	obj, ok := l.objects.Find(id.ClassID, id.LogicalName)
	if !ok {
		return nil, fmt.Errorf("%w: class %d %s", ErrObjectUndefined, id.ClassID, id.LogicalName)
	}
	r := l.server.Read(obj, []int{index})[0]
	if r.Err != nil {
		return nil, r.Err
	}
	return r.Encoded, nil
}

var _ Fetcher = (*Loopback)(nil)

// ResultOf extends dlms.ResultOf with the fetcher errors of this package.
func ResultOf(err error) dlms.AccessResult {
	if errors.Is(err, ErrObjectUndefined) {
		return dlms.ResultObjectUndefined
	}
	return dlms.ResultOf(err)
}
