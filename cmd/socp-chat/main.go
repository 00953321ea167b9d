// socp-chat is a minimal terminal client for a SOCP node: public-channel
// chat by default, /dm, /file and /list commands on top.
package main

import (
	"bufio"
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/WillLehmann04/secure-programming/client"
	"github.com/WillLehmann04/secure-programming/crypto"
)

var (
	input      = make(chan string)
	server     = flag.String("server", "ws://127.0.0.1:8765/ws", "node WebSocket URL")
	userID     = flag.String("user", "", "user id (v4 UUID, generated when empty)")
	keyFile    = flag.String("key", "chat_key.pem", "private key file, created when missing")
	channelKey = flag.String("channel-key", "", "hex 32-byte public channel key")
)

func chat(c *client.Client) {
	for {
		select {
		case e := <-c.Events():
			switch e.Type() {
			case client.EventDirect:
				fmt.Printf("%c[2K\r[dm %s] %s\n> ", 27, short(e.Sender()), e.Msg())
			case client.EventPublic:
				fmt.Printf("%c[2K\r[%s] %s\n> ", 27, short(e.Sender()), e.Msg())
			case client.EventFile:
				name := "recv_" + e.FileName()
				if err := os.WriteFile(name, e.Msg(), 0o644); err == nil {
					fmt.Printf("%c[2K\rreceived file %s from %s\n> ", 27, name, short(e.Sender()))
				}
			case client.EventAdvertise:
				fmt.Printf("%c[2K\r* %s is online\n> ", 27, short(e.Sender()))
			case client.EventRemove:
				fmt.Printf("%c[2K\r* %s left\n> ", 27, short(e.Sender()))
			case client.EventUserList:
				fmt.Printf("%c[2K\rusers: %s\n> ", 27, strings.Join(e.Users(), ", "))
			case client.EventError:
				fmt.Printf("%c[2K\rserver error %s: %s\n> ", 27, e.Code(), e.Detail())
			}
		case line := <-input:
			if err := handleInput(c, line); err != nil {
				fmt.Printf("%c[2K\r! %v\n> ", 27, err)
			}
		}
	}
}

func handleInput(c *client.Client, line string) error {
	switch {
	case line == "/list":
		return c.ListUsers()
	case strings.HasPrefix(line, "/dm "):
		parts := strings.SplitN(line, " ", 3)
		if len(parts) < 3 {
			return fmt.Errorf("usage: /dm <user-id> <message>")
		}
		return c.SendDirect(parts[1], []byte(parts[2]))
	case strings.HasPrefix(line, "/file "):
		parts := strings.SplitN(line, " ", 3)
		if len(parts) < 3 {
			return fmt.Errorf("usage: /file <user-id> <path>")
		}
		data, err := os.ReadFile(parts[2])
		if err != nil {
			return err
		}
		return c.SendFile(parts[1], parts[2], data)
	default:
		return c.SendPublic([]byte(line))
	}
}

func short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func main() {
	flag.Parse()

	uid := *userID
	if uid == "" {
		uid = uuid.NewString()
	}

	key, err := crypto.LoadOrCreateKeypair(*keyFile, *keyFile+".pub", 0)
	if err != nil {
		log.Fatalln(err)
	}

	var chanKey []byte
	if *channelKey != "" {
		chanKey, err = hex.DecodeString(*channelKey)
		if err != nil {
			log.Fatalln("channel-key:", err)
		}
	}

	c, err := client.Dial(context.Background(), client.Options{
		ServerURL:  *server,
		UserID:     uid,
		Key:        key,
		ChannelKey: chanKey,
		ClientName: "socp-chat",
	})
	if err != nil {
		log.Fatalln(err)
	}
	defer c.Close()

	fmt.Printf("connected as %s\n> ", uid)
	go chat(c)

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			input <- line
		}
		fmt.Print("> ")
	}
	if err := scanner.Err(); err != nil {
		log.Fatalln("reading standard input:", err)
	}
}
