// Package store 提供 RAG 服务的向量索引层。
//
// MemoryIndex 是权威的检索实现，采用写时复制快照：读者无锁地读取当前快照，
// 写者串行构建新快照后原子替换。PersistentIndex 在其之上增加 SQLite 或 Milvus
// 持久化，并在启动时从持久层恢复。
package store
