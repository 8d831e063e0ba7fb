package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/caarlos0/env/v6"
	"go.uber.org/zap"

	"dialback-chat/internal/client"
	"dialback-chat/internal/protocol"
)

const (
	colorRed   = "\033[31m"
	colorReset = "\033[0m"
)

const (
	exitOK = iota
	exitTransport
	exitRuntime
)

func main() {
	os.Exit(run())
}

func run() int {
	logger, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintf(os.Stderr, "zap.NewDevelopment: %v\n", err)
		return exitRuntime
	}
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg := client.EnvConfig{}
	if err := env.Parse(&cfg); err != nil {
		sugar.Errorf("Cannot parse env config: %v", err)
		return exitRuntime
	}

	c, err := client.Connect(sugar, cfg)
	if err != nil {
		sugar.Errorf("Cannot connect to server: %v", err)
		return exitTransport
	}
	defer c.Close()

	in := bufio.NewScanner(os.Stdin)

	if code := authenticate(c, in, sugar); code != exitOK {
		return code
	}

	c.StartUpdater()

	return menuLoop(c, in, sugar)
}

func readLine(in *bufio.Scanner) string {
	if !in.Scan() {
		return ""
	}
	return strings.TrimSpace(in.Text())
}

func authenticate(c *client.Client, in *bufio.Scanner, sugar *zap.SugaredLogger) int {
	fmt.Print("Choose:\n    1. Sign in\n    2. Sign up\nEnter number: ")
	choice := readLine(in)
	if choice != "1" && choice != "2" {
		fmt.Println("invalid command")
		return exitRuntime
	}

	fmt.Print("username: ")
	username := readLine(in)
	fmt.Print("password: ")
	password := readLine(in)

	var status protocol.AuthStatus
	var err error
	if choice == "1" {
		status, err = c.SignIn(username, password)
	} else {
		status, err = c.SignUp(username, password)
	}
	if err != nil {
		sugar.Errorf("Authentication exchange failed: %v", err)
		return exitTransport
	}

	switch status {
	case protocol.AuthSuccess:
		fmt.Println("authentication succeeded")
		return exitOK
	case protocol.AuthNotExists:
		fmt.Println("user not exists")
	case protocol.AuthInvalidPassword:
		fmt.Println("invalid password")
	case protocol.AuthExists:
		fmt.Println("user exists")
	}
	return exitRuntime
}

// renderErr prints request rejections in red and reports whether the error
// was fatal to the session.
func renderErr(err error) (fatal bool) {
	if err == nil {
		return false
	}

	var reqErr *client.RequestError
	if errors.As(err, &reqErr) {
		fmt.Println(colorRed + reqErr.Error() + colorReset)
		return false
	}
	return true
}

func menuLoop(c *client.Client, in *bufio.Scanner, sugar *zap.SugaredLogger) int {
	for {
		fmt.Print("Choose:\n" +
			"    1. Show chats\n" +
			"    2. Create chat\n" +
			"    3. Enter chat\n" +
			"    4. Quit\n" +
			"Enter num: ")

		switch readLine(in) {
		case "1":
			for _, chat := range c.Chats() {
				fmt.Println("    " + chat)
			}
		case "2":
			fmt.Print("Enter chat name: ")
			chatName := readLine(in)
			fmt.Print("Enter usernames: ")
			usernames := strings.Fields(readLine(in))

			if err := c.CreateChat(chatName, usernames); renderErr(err) {
				sugar.Errorf("Creating chat failed: %v", err)
				return exitTransport
			}
		case "3":
			fmt.Print("Enter chat name: ")
			chatName := readLine(in)
			if code := chatLoop(c, in, sugar, chatName); code != exitOK {
				return code
			}
		case "4":
			return exitOK
		default:
			fmt.Println("Invalid command")
		}
	}
}

func chatLoop(c *client.Client, in *bufio.Scanner, sugar *zap.SugaredLogger, chatName string) int {
	for {
		fmt.Print("Choose:\n" +
			"    1. Send message\n" +
			"    2. Show messages\n" +
			"    3. Invite user\n" +
			"    4. Exit menu\n" +
			"Enter num: ")

		switch readLine(in) {
		case "1":
			fmt.Println("Enter message:")
			text := readLine(in)

			if err := c.SendMessage(chatName, text); renderErr(err) {
				sugar.Errorf("Sending message failed: %v", err)
				return exitTransport
			}
		case "2":
			messages, err := c.Messages(chatName)
			if renderErr(err) {
				sugar.Errorf("Retrieving messages failed: %v", err)
				return exitTransport
			}
			for _, m := range messages {
				fmt.Printf("| %s / %s> %s\n", m.Datetime, m.Username, m.Text)
			}
		case "3":
			fmt.Print("Enter username: ")
			username := readLine(in)
			fmt.Print("Share history with user? (y/n): ")

			var shareHistory bool
			switch readLine(in) {
			case "y", "Y":
				shareHistory = true
			case "n", "N":
				shareHistory = false
			default:
				fmt.Println("invalid command")
				return exitOK
			}

			if err := c.Invite(chatName, username, shareHistory); renderErr(err) {
				sugar.Errorf("Inviting user failed: %v", err)
				return exitTransport
			}
		case "4":
			return exitOK
		default:
			fmt.Println("Invalid command")
		}
	}
}
