package cli

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
)

// RunList prints the environments the config declares.
func RunList(configPath string) error {
	project, err := loadProject(configPath)
	if err != nil {
		return err
	}

	defaults := make(map[string]bool, len(project.EnvList))
	for _, name := range project.EnvList {
		defaults[name] = true
	}

	w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ENV\tDEFAULT\tBASEPYTHON\tDESCRIPTION")

	for _, name := range project.EnvNames() {
		def, err := project.Resolve(name)
		if err != nil {
			fmt.Fprintf(w, "%s\t\t\t(invalid: %s)\n", name, strings.TrimSpace(err.Error()))
			continue
		}

		marker := ""
		if defaults[name] {
			marker = "*"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", name, marker, def.BasePython, def.Description)
	}

	return w.Flush()
}
