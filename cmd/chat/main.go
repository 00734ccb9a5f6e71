// chat: command line client for chatstore rooms.
package main

import "github.com/contenox/chatsync/internal/chatcli"

func main() {
	chatcli.Main()
}
