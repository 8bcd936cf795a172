package storefakes

import (
	"sync"

	"github.com/pkg/errors"

	"authkit/store"
)

var _ store.Repo = (*FakeStore)(nil)

// FakeStore is an in-memory store.Repo. FailWrites and FailReads make the
// next operations fail, for exercising persistence-failure handling.
type FakeStore struct {
	creds      store.Credentials
	lock       sync.RWMutex
	FailWrites bool
	FailReads  bool

	WriteCalls int
	ClearCalls int
}

func NewFakeStore() *FakeStore {
	return &FakeStore{}
}

func (fs *FakeStore) Write(creds store.Credentials) error {
	fs.lock.Lock()
	defer fs.lock.Unlock()
	fs.WriteCalls++
	if fs.FailWrites {
		return errors.New("write failed")
	}
	fs.creds = creds
	return nil
}

func (fs *FakeStore) Read() (store.Credentials, error) {
	fs.lock.RLock()
	defer fs.lock.RUnlock()
	if fs.FailReads {
		return store.Credentials{}, errors.New("read failed")
	}
	return fs.creds, nil
}

func (fs *FakeStore) Clear() error {
	fs.lock.Lock()
	defer fs.lock.Unlock()
	fs.ClearCalls++
	fs.creds = store.Credentials{}
	return nil
}
