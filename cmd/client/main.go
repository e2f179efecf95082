// Command client is a thin RPC CLI for a running server.
package main

import (
	"fmt"
	"net/rpc"
	"os"

	"github.com/epokhe/kvengine/internal/remote"
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage:\n")
	fmt.Fprintf(os.Stderr, "  client [-addr host:port] get <key>\n")
	fmt.Fprintf(os.Stderr, "  client [-addr host:port] set <key> <value>\n")
	fmt.Fprintf(os.Stderr, "  client [-addr host:port] remove <key>\n")
	os.Exit(1)
}

func main() {
	args := os.Args[1:]
	addr := "127.0.0.1:5000"

	if len(args) >= 2 && args[0] == "-addr" {
		addr = args[1]
		args = args[2:]
	}
	if len(args) < 2 {
		usage()
	}

	client, err := rpc.Dial("tcp", addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to dial %s: %v\n", addr, err)
		os.Exit(1)
	}
	defer client.Close()

	action, key := args[0], args[1]

	switch action {
	case "get":
		var reply remote.GetReply
		if err := client.Call("DB.Get", &remote.GetArgs{Key: []byte(key)}, &reply); err != nil {
			fmt.Fprintf(os.Stderr, "get failed: %v\n", err)
			os.Exit(1)
		}
		if !reply.Found {
			fmt.Fprintln(os.Stderr, "key not found")
			os.Exit(1)
		}
		fmt.Println(string(reply.Value))

	case "set":
		if len(args) != 3 {
			usage()
		}
		var reply struct{}
		if err := client.Call("DB.Set", &remote.SetArgs{Key: []byte(key), Value: []byte(args[2])}, &reply); err != nil {
			fmt.Fprintf(os.Stderr, "set failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("ok")

	case "remove":
		var reply remote.RemoveReply
		if err := client.Call("DB.Remove", &remote.RemoveArgs{Key: []byte(key)}, &reply); err != nil {
			fmt.Fprintf(os.Stderr, "remove failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(reply.Existed)

	default:
		fmt.Fprintf(os.Stderr, "unknown action %q\n", action)
		usage()
	}
}
