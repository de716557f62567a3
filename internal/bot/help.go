// ABOUTME: Help text listing the bot's commands
// ABOUTME: Shown to any sender, including those not on the allow-list

package bot

import "fmt"

// Version is reported in the help text.
const Version = "0.1.0"

// HelpText returns the markdown help message.
func HelpText() string {
	return fmt.Sprintf(`**Matrix Registration Bot** %s

**Unrestricted commands**

* `+"`help`"+`: Shows this help

**Restricted commands**

* `+"`list`"+`: Lists all registration tokens
* `+"`show <token>`"+`: Shows token details in human-readable format
* `+"`create [days]`"+`: Creates a token that is valid for one registration for seven days (or the given number of days)
* `+"`delete <token>`"+`: Deletes the specified token(s)
* `+"`delete-all`"+`: Deletes all tokens
* `+"`allow @user:example.com`"+`: Allows the specified user (or a user matching a regex pattern) to use restricted commands
* `+"`disallow @user:example.com`"+`: Stops a specified user (or a user matching a regex pattern) from using restricted commands
`, Version)
}
