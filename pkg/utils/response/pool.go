package response

import "sync"

// responsePool reduces allocations on the hot response path.
// 回收前清空所有字段，避免上一次请求的数据泄漏到下一次响应。
var responsePool = sync.Pool{
	New: func() interface{} {
		return &Response{}
	},
}

// Acquire retrieves a zeroed Response from the pool.
func Acquire() *Response {
	return responsePool.Get().(*Response)
}

// Release resets the Response and returns it to the pool.
// The Response must not be used after calling Release.
func Release(r *Response) {
	if r == nil {
		return
	}
	r.Code = 0
	r.HTTPCode = 0
	r.Message = ""
	r.Data = nil
	r.RequestID = ""
	r.Timestamp = 0
	responsePool.Put(r)
}
