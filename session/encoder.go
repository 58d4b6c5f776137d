package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"time"
)

const sessionFormatVersionCurrent = 1

// Encode serializes s into the compact binary layout used by RedisStore.
// Strings are length-prefixed with a big-endian uint16; timestamps are unix
// nanoseconds. Version is not part of the blob.
func Encode(s *Session) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(256 + len(s.AccessToken) + len(s.RefreshToken))
	buf.WriteByte(sessionFormatVersionCurrent)

	for _, field := range []struct {
		name  string
		value string
	}{
		{"id", s.ID},
		{"userID", s.UserID},
		{"email", s.Email},
		{"role", s.Role},
		{"accessToken", s.AccessToken},
		{"refreshToken", s.RefreshToken},
		{"userAgent", s.UserAgent},
		{"ipAddress", s.IPAddress},
	} {
		if err := writeString(&buf, field.value); err != nil {
			return nil, fmt.Errorf("%s: %w", field.name, err)
		}
	}

	for _, ts := range []time.Time{s.CreatedAt, s.LastActivity, s.ExpiresAt} {
		if err := binary.Write(&buf, binary.BigEndian, toNanos(ts)); err != nil {
			return nil, err
		}
	}

	if s.IsActive {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}

	if len(s.Metadata) > math.MaxUint16 {
		return nil, errors.New("metadata has too many entries")
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(s.Metadata))); err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(s.Metadata))
	for k := range s.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := writeString(&buf, k); err != nil {
			return nil, fmt.Errorf("metadata key: %w", err)
		}
		if err := writeString(&buf, s.Metadata[k]); err != nil {
			return nil, fmt.Errorf("metadata value: %w", err)
		}
	}

	return buf.Bytes(), nil
}

// Decode parses a blob produced by Encode.
func Decode(data []byte) (*Session, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != sessionFormatVersionCurrent {
		return nil, fmt.Errorf("unsupported session schema version %d", version)
	}

	s := &Session{}
	for _, dst := range []*string{
		&s.ID, &s.UserID, &s.Email, &s.Role,
		&s.AccessToken, &s.RefreshToken, &s.UserAgent, &s.IPAddress,
	} {
		if *dst, err = readString(reader); err != nil {
			return nil, err
		}
	}

	for _, dst := range []*time.Time{&s.CreatedAt, &s.LastActivity, &s.ExpiresAt} {
		var nanos int64
		if err := binary.Read(reader, binary.BigEndian, &nanos); err != nil {
			return nil, err
		}
		*dst = fromNanos(nanos)
	}

	active, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	s.IsActive = active == 1

	var entries uint16
	if err := binary.Read(reader, binary.BigEndian, &entries); err != nil {
		return nil, err
	}
	if entries > 0 {
		s.Metadata = make(map[string]string, entries)
		for i := 0; i < int(entries); i++ {
			k, err := readString(reader)
			if err != nil {
				return nil, err
			}
			v, err := readString(reader)
			if err != nil {
				return nil, err
			}
			s.Metadata[k] = v
		}
	}

	if reader.Len() != 0 {
		return nil, errors.New("trailing bytes in session blob")
	}
	return s, nil
}

func writeString(buf *bytes.Buffer, v string) error {
	if len(v) > math.MaxUint16 {
		return errors.New("value too long")
	}
	if err := binary.Write(buf, binary.BigEndian, uint16(len(v))); err != nil {
		return err
	}
	buf.WriteString(v)
	return nil
}

func readString(r *bytes.Reader) (string, error) {
	var n uint16
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return "", err
	}
	raw := make([]byte, n)
	if _, err := io.ReadFull(r, raw); err != nil {
		return "", err
	}
	return string(raw), nil
}

// Zero times encode as 0 because UnixNano is undefined outside ~1678-2262.
func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}
