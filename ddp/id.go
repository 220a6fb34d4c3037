package ddp

import (
	"github.com/oklog/ulid/v2"
)

// Id is a client-generated identifier used for subscriptions, methods,
// and instance identity. It is ULID-backed so ids sort by creation time,
// which is useful for correlating log lines but is not otherwise relied
// upon by the protocol.
type Id [16]byte

func NewId() Id {
	return Id(ulid.Make())
}

func (self Id) String() string {
	return ulid.ULID(self).String()
}

func (self Id) Bytes() []byte {
	return self[0:16]
}

func IdFromString(s string) (Id, error) {
	u, err := ulid.ParseStrict(s)
	if err != nil {
		return Id{}, err
	}
	return Id(u), nil
}

// IDGenerator is the injected random-id collaborator. The wire protocol only needs
// opaque, collision-resistant strings for sub/method ids — it does not
// interpret them.
type IDGenerator interface {
	NewID() string
}

// defaultIDGenerator backs IDGenerator with the package's ULID Id type.
type defaultIDGenerator struct{}

func (defaultIDGenerator) NewID() string {
	return NewId().String()
}

// DefaultIDGenerator is used when ClientSettings.IDGenerator is nil.
var DefaultIDGenerator IDGenerator = defaultIDGenerator{}
