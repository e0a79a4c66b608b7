package util

const (
	StorageLocal = "local"
	StorageMinio = "minio"
	StorageOSS   = "oss"
)

const MimeJSON = "application/json"

// 报告缓存 key 前缀
const CacheKeyPrefix = "stats_cache:"
