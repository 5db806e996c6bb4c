package internal

import (
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"net/url"
	"strconv"

	"github.com/dgraph-io/badger/v4"
)

//go:embed inspect.html
var templatesFS embed.FS

type InspectRow struct {
	Key      string
	Name     string
	Size     string
	Type     string
	StoredBy string
	StoredAt string
}

type StatsProvider func() map[string]any

type PageData struct {
	Prefix string
	Items  []InspectRow
	Stats  map[string]any
}

// StartDebugServer exposes a read-only view over the catalog entries, for
// operators checking what actually landed without shelling into Badger.
func StartDebugServer(db *badger.DB, port int, statsProvider StatsProvider) {
	mux := http.NewServeMux()
	tmpl := template.Must(template.ParseFS(templatesFS, "inspect.html"))

	mux.HandleFunc("/inspect", func(w http.ResponseWriter, r *http.Request) {
		prefix := r.URL.Query().Get("prefix")
		if prefix == "" {
			prefix = "upload:"
		}

		data := PageData{
			Prefix: prefix,
			Stats:  make(map[string]any),
		}
		if statsProvider != nil {
			data.Stats = statsProvider()
		}

		_ = db.View(func(txn *badger.Txn) error {
			it := txn.NewIterator(badger.DefaultIteratorOptions)
			defer it.Close()
			for it.Seek([]byte(prefix)); it.ValidForPrefix([]byte(prefix)); it.Next() {
				item := it.Item()
				_ = item.Value(func(val []byte) error {
					data.Items = append(data.Items, mapRow(string(item.Key()), val))
					return nil
				})
			}
			return nil
		})

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_ = tmpl.Execute(w, data)
	})

	go func() {
		// Listening on all interfaces so the dashboard is reachable remotely
		_ = http.ListenAndServe(fmt.Sprintf("0.0.0.0:%d", port), mux)
	}()
}

func mapRow(key string, val []byte) InspectRow {
	row := InspectRow{
		Key:  key,
		Name: "--------",
		Size: strconv.Itoa(len(val)) + " bytes (raw)",
		Type: "RAW",
	}

	var entry struct {
		Name        string `json:"name"`
		Size        int64  `json:"size"`
		ContentType string `json:"contentType"`
		StoredBy    string `json:"storedBy"`
		StoredAt    string `json:"storedAt"`
	}
	if err := json.Unmarshal(val, &entry); err != nil {
		return row
	}

	row.Name = entry.Name
	row.Size = strconv.FormatInt(entry.Size, 10)
	row.Type = entry.ContentType
	row.StoredBy = entry.StoredBy
	row.StoredAt = entry.StoredAt
	return row
}

// InspectURL builds the dashboard address for a given prefix.
func InspectURL(port int, prefix string) string {
	return fmt.Sprintf("http://localhost:%d/inspect?prefix=%s", port, url.QueryEscape(prefix))
}
