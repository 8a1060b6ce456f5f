package crawlers

import (
	"crypto/md5"
	"encoding/hex"
	"sync"
)

// DedupIndex 行内图片内容去重索引 (MD5 -> 首个URL)
// 每行新建一个,不跨行共享
type DedupIndex struct {
	mux  sync.RWMutex
	seen map[string]string
}

// NewDedupIndex 创建去重索引
func NewDedupIndex() *DedupIndex {
	return &DedupIndex{seen: make(map[string]string)}
}

// ContentHash 计算图片内容摘要
func ContentHash(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

// Claim 登记摘要,已存在时返回 false 和首次登记的URL
func (d *DedupIndex) Claim(hash, url string) (string, bool) {
	d.mux.RLock()
	if first, ok := d.seen[hash]; ok {
		d.mux.RUnlock()
		return first, false
	}
	d.mux.RUnlock()

	d.mux.Lock()
	defer d.mux.Unlock()

	if first, ok := d.seen[hash]; ok {
		return first, false
	}
	d.seen[hash] = url
	return url, true
}

// Release 撤销登记(保存失败时回滚)
func (d *DedupIndex) Release(hash string) {
	d.mux.Lock()
	delete(d.seen, hash)
	d.mux.Unlock()
}

// Len 已登记的摘要数量
func (d *DedupIndex) Len() int {
	d.mux.RLock()
	defer d.mux.RUnlock()
	return len(d.seen)
}
