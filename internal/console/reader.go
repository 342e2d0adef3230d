// ConsoleReader drives the interactive operator prompt, grounded on
// command/reader/reader.go's liner-based loop (history, ctrl-C abort,
// tab completion), adapted to the new Console type's command set.
package console

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/peterh/liner"
)

func ConsoleReader(c *Console) {
	line := liner.NewLiner()
	defer line.Close()

	line.SetCtrlCAborts(true)
	line.SetCompleter(func(input string) []string {
		return CompleteCmd(input)
	})

	for {
		command, err := line.Prompt("s370e> ")
		if err == nil {
			line.AppendHistory(command)
			quit, cmdErr := c.ProcessCommand(command)
			if cmdErr != nil {
				fmt.Println("Error: " + cmdErr.Error())
			}
			if quit {
				return
			}
			continue
		}

		if errors.Is(err, liner.ErrPromptAborted) {
			return
		}
		slog.Error("error reading console line: " + err.Error())
	}
}

// commandNames lists every top-level verb, used for tab completion;
// grounded on command/parser/complete.go's static-name-list approach.
var commandNames = []string{
	"start", "g", "stop", "restart", "ext", "store-status", "ipl",
	"loadparm", "s+", "s-", "t+", "t-", "i", "b", "b-", "r", "v",
	"devinit", "loadcore", "chkdsk", "gc", "quit",
}

// CompleteCmd returns every command name with input as a prefix.
func CompleteCmd(input string) []string {
	var matches []string
	for _, name := range commandNames {
		if len(input) <= len(name) && name[:len(input)] == input {
			matches = append(matches, name)
		}
	}
	return matches
}
