package adapters

// EmbyAdapter Emby 适配器。Emby 与 Jellyfin 的管理接口同源，
// 认证头和本核心用到的端点完全一致，直接复用 Jellyfin 实现。
type EmbyAdapter struct {
	*JellyfinAdapter
}

func NewEmbyAdapter() *EmbyAdapter {
	return &EmbyAdapter{JellyfinAdapter: NewJellyfinAdapter()}
}
