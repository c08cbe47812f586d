// Package biz 提供 RAG 服务的业务逻辑层。
//
// 组件划分：
//   - Chunker: 将规范化文本切分为有重叠、token 数有上限的分块
//   - EmbeddingPort / GenerationPort: 向量模型与生成模型的单方法端口
//   - RetrievalPlanner: 问题向量化、检索并按 token 预算裁剪
//   - QueryCache: 以规范化问题 + 语料指纹为键的 TTL 缓存，合并并发请求
//   - RAGService: 编排问答状态机和入库流程
package biz
