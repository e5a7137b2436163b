package services

import (
	"reflect"
	"sort"
	"testing"

	"github.com/themaluxis/MUM-sub001/internal/adapters"
	"github.com/themaluxis/MUM-sub001/internal/models"
)

func testServers() []models.MediaServer {
	return []models.MediaServer{
		{ID: 1, Name: "plex-main", Type: models.ServerTypePlex},
		{ID: 2, Name: "plex-4k", Type: models.ServerTypePlex},
		{ID: 3, Name: "jelly", Type: models.ServerTypeJellyfin},
	}
}

func testAvailable() map[uint][]adapters.Library {
	return map[uint][]adapters.Library{
		1: {{ExternalID: "1", Name: "Movies"}, {ExternalID: "2", Name: "TV"}},
		2: {{ExternalID: "1", Name: "Movies 4K"}},
		3: {{ExternalID: "guid-anime", Name: "Anime"}},
	}
}

func TestCanonicalKey(t *testing.T) {
	plex := &models.MediaServer{ID: 1, Name: "plex-main", Type: models.ServerTypePlex}
	jelly := &models.MediaServer{ID: 3, Name: "jelly", Type: models.ServerTypeJellyfin}

	if got := CanonicalKey(plex, "1"); got != "[plex]-plex-main-1" {
		t.Fatalf("plex key = %q", got)
	}
	// 全局唯一 ID 原样保留
	if got := CanonicalKey(jelly, "guid-anime"); got != "guid-anime" {
		t.Fatalf("jellyfin key = %q", got)
	}
}

// 两台 Plex 服务器上相同的 section key 编码后必须可区分
func TestEncodeSeparatesCollidingIDs(t *testing.T) {
	svc := NewLibraryService()
	servers := testServers()
	available := testAvailable()

	keys := svc.Encode(map[uint][]string{1: {"1"}, 2: {"1"}}, servers, available)
	sort.Strings(keys)
	want := []string{"[plex]-plex-4k-1", "[plex]-plex-main-1"}
	if !reflect.DeepEqual(keys, want) {
		t.Fatalf("keys = %v, want %v", keys, want)
	}

	// 还原时各归各家
	decoded := svc.Decode(keys, servers, available)
	if !reflect.DeepEqual(decoded[1], []string{"1"}) {
		t.Fatalf("server 1 decoded = %v", decoded[1])
	}
	if !reflect.DeepEqual(decoded[2], []string{"1"}) {
		t.Fatalf("server 2 decoded = %v", decoded[2])
	}
	if len(decoded[3]) != 0 {
		t.Fatalf("server 3 decoded = %v, want empty", decoded[3])
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	svc := NewLibraryService()
	servers := testServers()
	available := testAvailable()

	selection := map[uint][]string{
		1: {"2"},
		3: {"guid-anime"},
	}

	keys := svc.Encode(selection, servers, available)
	decoded := svc.Decode(keys, servers, available)

	if !reflect.DeepEqual(decoded[1], []string{"2"}) {
		t.Fatalf("server 1 = %v", decoded[1])
	}
	if len(decoded[2]) != 0 {
		t.Fatalf("server 2 = %v, want empty", decoded[2])
	}
	if !reflect.DeepEqual(decoded[3], []string{"guid-anime"}) {
		t.Fatalf("server 3 = %v", decoded[3])
	}
}

// 选中集合恰好等于全部可选集合时写入空列表哨兵，差一个都不行
func TestEncodeSentinelOnlyOnFullSelection(t *testing.T) {
	svc := NewLibraryService()
	servers := testServers()
	available := testAvailable()

	full := map[uint][]string{
		1: {"1", "2"},
		2: {"1"},
		3: {"guid-anime"},
	}
	keys := svc.Encode(full, servers, available)
	if len(keys) != 0 {
		t.Fatalf("full selection keys = %v, want sentinel (empty)", keys)
	}

	partial := map[uint][]string{
		1: {"1", "2"},
		2: {"1"},
	}
	keys = svc.Encode(partial, servers, available)
	if len(keys) != 3 {
		t.Fatalf("partial selection keys = %v, want 3 explicit keys", keys)
	}
}

func TestEncodeIgnoresUnknownAndDuplicate(t *testing.T) {
	svc := NewLibraryService()
	servers := testServers()
	available := testAvailable()

	keys := svc.Encode(map[uint][]string{1: {"1", "1", "999"}}, servers, available)
	if !reflect.DeepEqual(keys, []string{"[plex]-plex-main-1"}) {
		t.Fatalf("keys = %v", keys)
	}
}

// 空哨兵按 always-all 展开：邀请创建之后新增的库也包含在内
func TestSentinelExpandsToCurrentLibraries(t *testing.T) {
	svc := NewLibraryService()
	servers := testServers()

	invite := &models.Invite{Libraries: ""}

	grown := []adapters.Library{
		{ExternalID: "1", Name: "Movies"},
		{ExternalID: "2", Name: "TV"},
		{ExternalID: "7", Name: "Added Later"},
	}
	if got := svc.ResolveGrant(invite, &servers[0], grown); got != nil {
		t.Fatalf("ResolveGrant(sentinel) = %v, want nil (all libraries)", got)
	}

	decoded := svc.Decode(nil, servers[:1], map[uint][]adapters.Library{1: grown})
	if !reflect.DeepEqual(decoded[1], []string{"1", "2", "7"}) {
		t.Fatalf("decoded = %v", decoded[1])
	}
}

func TestResolveGrantExplicitKeys(t *testing.T) {
	svc := NewLibraryService()
	servers := testServers()
	available := testAvailable()

	invite := &models.Invite{Libraries: "[plex]-plex-main-1,guid-anime"}

	if got := svc.ResolveGrant(invite, &servers[0], available[1]); !reflect.DeepEqual(got, []string{"1"}) {
		t.Fatalf("plex-main grant = %v", got)
	}
	if got := svc.ResolveGrant(invite, &servers[1], available[2]); len(got) != 0 {
		t.Fatalf("plex-4k grant = %v, want empty", got)
	}
	if got := svc.ResolveGrant(invite, &servers[2], available[3]); !reflect.DeepEqual(got, []string{"guid-anime"}) {
		t.Fatalf("jelly grant = %v", got)
	}
}

func TestSplitKeys(t *testing.T) {
	if got := SplitKeys(""); got != nil {
		t.Fatalf("SplitKeys(empty) = %v, want nil", got)
	}
	got := SplitKeys(" a, b ,,c ")
	if !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Fatalf("SplitKeys = %v", got)
	}
}
