package main

import (
	"flag"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
)

func main() {
	objFile := flag.String("obj", "", "Path to a linked BPF object")
	flag.Parse()

	path := *objFile
	if path == "" && flag.NArg() == 1 {
		path = flag.Arg(0)
	}
	if path == "" {
		fmt.Fprintln(os.Stderr, "Usage: inspect <object.o>")
		fmt.Fprintln(os.Stderr, "       inspect -obj <object.o>")
		os.Exit(1)
	}

	p := tea.NewProgram(newInspectModel(path), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
