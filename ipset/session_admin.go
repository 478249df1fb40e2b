package ipset

import (
	"go.uber.org/zap"
)

// Create creates the bound set with the bound type and family. A non nil
// timeout enables per member expiry with that default. exist makes an
// already existing set of the same name a success.
func (s *Session) Create(timeout *uint32, exist bool) bool {
	if s.conn == nil {
		return false
	}
	err := s.conn.Create(s.name, s.typ, CreateOptions{
		Family:  s.family(),
		Timeout: timeout,
		Exist:   exist,
	})
	if err != nil {
		s.debugf("ipset create failed", zap.String("set", s.name), zap.String("type", s.typ), zap.Error(err))
		return false
	}
	return true
}

// Flush drops every member of the bound set.
func (s *Session) Flush() bool {
	if s.conn == nil {
		return false
	}
	if err := s.conn.Flush(s.name); err != nil {
		s.debugf("ipset flush failed", zap.String("set", s.name), zap.Error(err))
		return false
	}
	return true
}

// Swap exchanges the content of the bound set with other, both sets must
// have the same type.
func (s *Session) Swap(other string) bool {
	if s.conn == nil {
		return false
	}
	if err := s.conn.Swap(s.name, other); err != nil {
		s.debugf("ipset swap failed", zap.String("set", s.name), zap.String("other", other), zap.Error(err))
		return false
	}
	return true
}

// Header returns the metadata of the bound set.
func (s *Session) Header() (*Header, bool) {
	if s.conn == nil {
		return nil, false
	}
	h, err := s.conn.Header(s.name)
	if err != nil {
		return nil, false
	}
	return h, true
}

// Members lists the live members of the bound set.
func (s *Session) Members() ([]Member, bool) {
	if s.conn == nil {
		return nil, false
	}
	members, err := s.conn.List(s.name)
	if err != nil {
		s.debugf("ipset list failed", zap.String("set", s.name), zap.Error(err))
		return nil, false
	}
	return members, true
}

// Version describes the backend behind the session.
func (s *Session) Version() (string, error) {
	if s.conn == nil {
		return "", ErrNotOpen
	}
	return s.conn.Version()
}
