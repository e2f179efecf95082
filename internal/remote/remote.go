// Package remote exposes an Engine over net/rpc, mirroring the teacher's
// cmd/remote wrapper but carrying raw key/value bytes instead of strings and
// reporting presence explicitly instead of overloading the error return.
package remote

import (
	"errors"
	"net"
	"net/rpc"

	"go.uber.org/zap"

	"github.com/epokhe/kvengine"
)

// GetArgs requests the value for Key.
type GetArgs struct {
	Key []byte
}

// GetReply carries the looked-up value. Found distinguishes an absent key
// from a present zero-length value.
type GetReply struct {
	Value []byte
	Found bool
}

// SetArgs installs Value for Key.
type SetArgs struct {
	Key   []byte
	Value []byte
}

// RemoveArgs tombstones Key.
type RemoveArgs struct {
	Key []byte
}

// RemoveReply reports whether a live entry existed before the remove.
type RemoveReply struct {
	Existed bool
}

// DB is the RPC-visible wrapper around an *kvengine.Engine, registered under
// the service name "DB".
type DB struct {
	engine *kvengine.Engine
	logger *zap.SugaredLogger
}

// Get looks up args.Key. A missing key is reported via reply.Found, not as
// an RPC error.
func (d *DB) Get(args *GetArgs, reply *GetReply) error {
	val, err := d.engine.Get(args.Key)
	if err != nil {
		if isNotFound(err) {
			reply.Found = false
			return nil
		}
		return err
	}
	reply.Value = val
	reply.Found = true
	return nil
}

// Set installs args.Value for args.Key.
func (d *DB) Set(args *SetArgs, _ *struct{}) error {
	return d.engine.Set(args.Key, args.Value)
}

// Remove tombstones args.Key.
func (d *DB) Remove(args *RemoveArgs, reply *RemoveReply) error {
	existed, err := d.engine.Remove(args.Key)
	if err != nil {
		return err
	}
	reply.Existed = existed
	return nil
}

func isNotFound(err error) bool {
	return errors.Is(err, kvengine.ErrKeyNotFound)
}

// Serve registers e under the service name "DB" and accepts connections on
// addr until the returned listener is closed. It returns the listener, whose
// Addr reports the bound address (useful when addr requests an ephemeral
// port) and which callers Close to stop serving.
func Serve(e *kvengine.Engine, addr string, logger *zap.SugaredLogger) (net.Listener, error) {
	server := rpc.NewServer()
	if err := server.RegisterName("DB", &DB{engine: e, logger: logger}); err != nil {
		return nil, err
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	go server.Accept(listener)
	return listener, nil
}
