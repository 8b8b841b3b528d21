package session

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/spec-kit/community-hub/internal/domain"
)

const wireVersion = 1

// wireSession is the CBOR layout stored in Redis. The token is the key and
// is not repeated in the value.
type wireSession struct {
	Version         uint8  `cbor:"0,keyasint"`
	SubjectID       string `cbor:"1,keyasint"`
	Role            string `cbor:"2,keyasint"`
	CreatedAt       int64  `cbor:"3,keyasint"`
	LastRefreshedAt int64  `cbor:"4,keyasint"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("session: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("session: CBOR decoder initialization failed: " + err.Error())
	}
}

func encode(sess *domain.Session) ([]byte, error) {
	return encMode.Marshal(wireSession{
		Version:         wireVersion,
		SubjectID:       sess.SubjectID,
		Role:            string(sess.Role),
		CreatedAt:       sess.CreatedAt.UnixNano(),
		LastRefreshedAt: sess.LastRefreshedAt.UnixNano(),
	})
}

func decode(token string, data []byte) (*domain.Session, error) {
	var w wireSession
	if err := decMode.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	if w.Version != wireVersion {
		return nil, fmt.Errorf("decode session: unsupported version %d", w.Version)
	}
	return &domain.Session{
		Token:           token,
		SubjectID:       w.SubjectID,
		Role:            domain.Role(w.Role),
		CreatedAt:       time.Unix(0, w.CreatedAt),
		LastRefreshedAt: time.Unix(0, w.LastRefreshedAt),
	}, nil
}
