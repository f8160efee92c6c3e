package errors

// 文档问答服务代码: 20 (业务服务范围 20-79)
// 错误码格式: AABBCCC
// - AA: 20 (docuchat 服务)
// - BB: 类别代码
// - CCC: 序号

var (
	// 请求参数错误 (类别 01)
	ErrEmptyQuery = Register(New(MakeCode(ServiceDocuChat, CategoryRequest, 1),
		400, "Query text is empty", "查询内容为空"))
	ErrNoDocuments = Register(New(MakeCode(ServiceDocuChat, CategoryRequest, 2),
		400, "No loadable documents in upload", "上传中没有可加载的文档"))
	ErrUnsupportedFileType = Register(New(MakeCode(ServiceDocuChat, CategoryRequest, 3),
		400, "Unsupported file type", "不支持的文件类型"))
	ErrFileTooLarge = Register(New(MakeCode(ServiceDocuChat, CategoryRequest, 4),
		413, "Uploaded file exceeds size limit", "上传文件超出大小限制"))

	// 资源状态错误 (类别 04)
	ErrNoIndex = Register(New(MakeCode(ServiceDocuChat, CategoryResource, 1),
		409, "No document index for this session, upload documents first", "会话尚未建立文档索引, 请先上传文档"))
	ErrSessionNotFound = Register(New(MakeCode(ServiceDocuChat, CategoryResource, 2),
		404, "Session not found or expired", "会话不存在或已过期"))

	// 索引构建错误 (类别 07)
	ErrIndexBuildFailed = Register(New(MakeCode(ServiceDocuChat, CategoryInternal, 1),
		500, "Document index build failed", "文档索引构建失败"))
	ErrDocumentLoadFailed = Register(New(MakeCode(ServiceDocuChat, CategoryInternal, 2),
		500, "Document loading failed", "文档加载失败"))
)

// 第三方 LLM 提供商错误 (服务代码 90)
var (
	ErrAllProvidersFailed = Register(New(MakeCode(ServiceProvider, CategoryNetwork, 1),
		502, "All answer providers failed", "所有模型提供商均调用失败"))
	ErrNoProviderConfigured = Register(New(MakeCode(ServiceProvider, CategoryConfig, 1),
		500, "No answer provider configured", "未配置任何模型提供商"))
	ErrProviderTimeout = Register(New(MakeCode(ServiceProvider, CategoryTimeout, 1),
		504, "Provider call timed out", "模型提供商调用超时"))
	ErrEmbeddingFailed = Register(New(MakeCode(ServiceProvider, CategoryNetwork, 2),
		502, "Embedding request failed", "向量化请求失败"))
)
