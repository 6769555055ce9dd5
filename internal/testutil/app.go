package testutil

import (
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/vrsandeep/stream-go/internal/config"
	"github.com/vrsandeep/stream-go/internal/core"
	"github.com/vrsandeep/stream-go/internal/providers"
)

// SetupTestApp assembles a full application on an in-memory database with a
// private provider registry and a temporary data directory.
func SetupTestApp(t *testing.T) *core.App {
	t.Helper()
	cfg := &config.Config{DataDir: t.TempDir()}
	cfg.Repositories.HTTPTimeout = 10
	cfg.Plugins.InstallConcurrency = 2
	cfg.Plugins.TempArchiveMaxAge = 24

	app := core.Assemble(cfg, SetupTestDB(t), providers.NewRegistry(), zaptest.NewLogger(t), "test")
	t.Cleanup(func() {
		app.Jobs.Stop()
		app.Plugins.UnloadAll()
	})
	return app
}

// ScriptPluginArchive returns the entries of an archive holding a TypeScript
// plugin whose class registers a main API named apiName with a search
// function echoing its query.
func ScriptPluginArchive(className, apiName string) []ZipEntry {
	manifest := `{"pluginClassName":"` + className + `","name":"` + apiName + `"}`
	source := `
export class ` + className + ` {
	load(context: { pluginKey: string }): void {
		(this as any).registerMainAPI({
			name: "` + apiName + `",
			mainUrl: "https://example.com",
			lang: "en",
			search: (query: string) => [{ title: query, plugin: context.pluginKey }],
		});
	}
}
`
	return []ZipEntry{
		{Name: "manifest.json", Body: manifest},
		{Name: "src/index.ts", Body: source},
	}
}
