package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/stemsi/vidassess/internal/config"
	"github.com/stemsi/vidassess/internal/service"
	"golang.org/x/term"
)

// issue-token signs a student token for local testing of the video test page.
func main() {
	var (
		studentID string
		name      string
		ttl       time.Duration
		askSecret bool
	)
	flag.StringVar(&studentID, "student", "", "Student ID (prompted when empty)")
	flag.StringVar(&name, "name", "", "Display name")
	flag.DurationVar(&ttl, "ttl", 2*time.Hour, "Token lifetime")
	flag.BoolVar(&askSecret, "ask-secret", false, "Prompt for the signing secret instead of using JWT_SECRET")
	flag.Parse()

	cfg := config.Load()
	interactive := term.IsTerminal(int(os.Stdin.Fd()))
	reader := bufio.NewReader(os.Stdin)

	if studentID == "" {
		if !interactive {
			fmt.Fprintln(os.Stderr, "Error: -student is required")
			os.Exit(2)
		}
		fmt.Print("Enter Student ID: ")
		line, _ := reader.ReadString('\n')
		studentID = strings.TrimSpace(line)
		if studentID == "" {
			fmt.Fprintln(os.Stderr, "Error: Student ID is required")
			os.Exit(2)
		}
	}

	if askSecret {
		if !interactive {
			fmt.Fprintln(os.Stderr, "Error: -ask-secret needs a terminal")
			os.Exit(2)
		}
		fmt.Print("Enter JWT secret: ")
		secret, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Println()
		if err != nil || len(secret) == 0 {
			fmt.Fprintln(os.Stderr, "Error reading secret")
			os.Exit(1)
		}
		cfg.JWTSecret = string(secret)
	}

	token, err := service.NewAuthService(cfg).GenerateStudentToken(studentID, name, ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(token)
}
