package manifest_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sdhttp "github.com/Sakurayuki-A/StarDriver/internal/http"
	"github.com/Sakurayuki-A/StarDriver/internal/manifest"
	"github.com/Sakurayuki-A/StarDriver/internal/testutils"
)

func newClient(url string) *manifest.Client {
	return manifest.NewClient(
		sdhttp.NewClient(sdhttp.DefaultOptions()),
		url,
		slog.New(discardHandler),
	)
}

func TestFetchRootSendsLauncherHeaders(t *testing.T) {
	var got http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		io.WriteString(w, "PatchURL=http://x/patch\nMasterURL=http://x/master\n")
	}))
	defer server.Close()

	_, err := newClient(server.URL + "/management_beta.txt").FetchRoot(context.Background())
	require.NoError(t, err)

	assert.Equal(t, sdhttp.UserAgent, got.Get("User-Agent"))
	assert.Equal(t, "no-cache", got.Get("Cache-Control"))
	assert.Equal(t, "no-cache", got.Get("Pragma"))
}

func TestFetchRootForbidden(t *testing.T) {
	ps := testutils.NewPatchServer(t)
	ps.Forbid()

	_, err := newClient(ps.ManagementURL()).FetchRoot(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Forbidden")
	assert.Contains(t, err.Error(), "regional")
}

func TestFetchManifestUnion(t *testing.T) {
	ps := testutils.NewPatchServer(t)
	a := []byte("aaaa")
	b := []byte("bb")
	ps.SetList(manifest.PrologueList,
		testutils.Row("a.bin.pat", []byte("stale-version")),
		testutils.Row("p.bin.pat", a))
	ps.SetList(manifest.RebootList, testutils.Row("a.bin.pat", a))
	ps.SetList(manifest.LauncherList, testutils.Row("launcher.exe.pat", b))

	client := newClient(ps.ManagementURL())
	root, err := client.FetchRoot(context.Background())
	require.NoError(t, err)

	entries, err := client.FetchManifest(context.Background(), root, manifest.FullDataset)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	byKey := make(map[string]manifest.Entry)
	for _, e := range entries {
		byKey[e.Key()] = e
	}
	assert.Equal(t, testutils.MD5Hex(a), byKey["a.bin"].MD5, "reboot wins")
	assert.True(t, byKey["a.bin"].Reboot)
	assert.Equal(t, int64(len(b)), byKey["launcher.exe"].Size)
}

func TestOpenStream(t *testing.T) {
	ps := testutils.NewPatchServer(t)
	data := []byte("0123456789")
	ps.AddFile("c.bin.pat", data)
	ps.SetList(manifest.LauncherList, testutils.Row("c.bin.pat", data))

	client := newClient(ps.ManagementURL())
	root, err := client.FetchRoot(context.Background())
	require.NoError(t, err)

	entries, err := client.FetchManifest(context.Background(), root, manifest.LauncherOnly)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	stream, err := client.OpenStream(context.Background(), entries[0], false)
	require.NoError(t, err)
	defer stream.Body.Close()

	body, err := io.ReadAll(stream.Body)
	require.NoError(t, err)
	assert.Equal(t, data, body)
	assert.Equal(t, int64(len(data)), stream.Length)
}

func TestOpenStreamStatusError(t *testing.T) {
	ps := testutils.NewPatchServer(t)
	data := []byte("x")
	ps.AddFile("c.bin.pat", data)
	ps.SetList(manifest.LauncherList, testutils.Row("c.bin.pat", data))
	ps.FailNext("/patch/c.bin.pat", http.StatusInternalServerError)

	client := newClient(ps.ManagementURL())
	root, err := client.FetchRoot(context.Background())
	require.NoError(t, err)
	entries, err := client.FetchManifest(context.Background(), root, manifest.LauncherOnly)
	require.NoError(t, err)

	_, err = client.OpenStream(context.Background(), entries[0], false)
	require.Error(t, err)

	var se *manifest.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusInternalServerError, se.Code)
	assert.Equal(t, sdhttp.KindServerStatus, se.Kind())
}
