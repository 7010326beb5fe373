// Package cache 提供两类进程内缓存：
//
//   - ResultCache：按 key 缓存结构化抓取结果，读时判断 TTL（惰性过期），
//     同一 key 的并发未命中只触发一次上游抓取，其余调用方等待同一结果；
//   - BlobCache：按规范化 URL 永久缓存媒体字节与探测出的 MIME，写入一次后不再覆盖，
//     可选落盘到 Store（临时文件 + rename）以便重启后复用。
//
// 两者的抓取失败都不会被缓存，且会释放全部等待者。
package cache
