package main

import (
	"fmt"
	"log"
	"os"
)

func writeAppend(name string, data []byte, perm os.FileMode) error {
	os.Mkdir("log", 0777)

	b, err := os.ReadFile(name)
	if err != nil && !os.IsNotExist(err) {
		return err
	}

	return os.WriteFile(name, append(b, data...), perm)
}

// Logger mirrors log output to stdout and log/latest.txt.
type Logger struct {
}

func newLogger() *Logger {
	os.Rename("log/latest.txt", "log/last.txt")

	return &Logger{}
}

func (l *Logger) Write(p []byte) (int, error) {
	fmt.Print(string(p))

	// Write to file
	writeAppend("log/latest.txt", p, 0666)

	return len(p), nil
}

func init() {
	log.SetOutput(newLogger())
}
