package storagetest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// TitlesHeader is the dataset header in its published column order.
const TitlesHeader = "show_id,type,title,director,cast,country,date_added,release_year,rating,duration,listed_in,description"

// TitleLine renders one CSV data line; the country is always quoted so it
// may contain commas.
func TitleLine(id, country, year string) string {
	return fmt.Sprintf(`%s,Movie,Title %s,,,"%s",,%s,PG,90 min,Dramas,about %s`, id, id, country, year, id)
}

// WriteCSV writes header followed by lines to dir/name and returns the path.
func WriteCSV(t testing.TB, dir, name, header string, lines ...string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	body := header + "\n" + strings.Join(lines, "\n")
	if len(lines) > 0 {
		body += "\n"
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}
