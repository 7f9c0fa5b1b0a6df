// Package peerbook 维护对端地址簿
//
// 对端用临时源端口发包，但监听在宣告端口上。地址簿记录
// 观测地址与宣告地址的映射（化名），使上层始终以宣告地址
// 标识对端，且任一地址的查询都落到同一个逻辑对端。
package peerbook

import (
	"sync"

	"github.com/dep2p/go-courier/pkg/types"
)

// Nym 对端化名
//
// 同一对端的两个地址视图：Observed 是传输层观测到的来源地址，
// Advertised 是对端宣告的监听地址。
type Nym struct {
	Observed   types.Address
	Advertised types.Address
}

// Book 对端地址簿
type Book struct {
	mu           sync.RWMutex
	byObserved   map[types.Address]Nym
	byAdvertised map[types.Address]Nym
}

// NewBook 创建地址簿
func NewBook() *Book {
	return &Book{
		byObserved:   make(map[types.Address]Nym),
		byAdvertised: make(map[types.Address]Nym),
	}
}

// Observe 记录一次观测并返回对端的逻辑地址
//
// observed 是传输层看到的来源地址，advertisedPort 取自包元数据。
// 宣告端口无效时退回观测地址本身。
func (b *Book) Observe(observed types.Address, advertisedPort int) types.Address {
	if advertisedPort <= 0 || advertisedPort > 65535 {
		return observed
	}
	advertised := observed.WithPort(advertisedPort)
	nym := Nym{Observed: observed, Advertised: advertised}

	b.mu.Lock()
	b.byObserved[observed] = nym
	b.byAdvertised[advertised] = nym
	b.mu.Unlock()

	return advertised
}

// Lookup 按任一地址查询化名
//
// 观测地址与宣告地址都能命中同一条记录。
func (b *Book) Lookup(addr types.Address) (Nym, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if nym, ok := b.byAdvertised[addr]; ok {
		return nym, true
	}
	if nym, ok := b.byObserved[addr]; ok {
		return nym, true
	}
	return Nym{}, false
}

// Resolve 将任一地址解析为逻辑地址
//
// 未知地址原样返回，调用方无需区分是否已有记录。
func (b *Book) Resolve(addr types.Address) types.Address {
	if nym, ok := b.Lookup(addr); ok {
		return nym.Advertised
	}
	return addr
}

// Forget 删除一个对端的化名记录
func (b *Book) Forget(addr types.Address) {
	b.mu.Lock()
	defer b.mu.Unlock()
	nym, ok := b.byAdvertised[addr]
	if !ok {
		nym, ok = b.byObserved[addr]
	}
	if !ok {
		return
	}
	delete(b.byObserved, nym.Observed)
	delete(b.byAdvertised, nym.Advertised)
}

// Len 返回记录的对端数量
func (b *Book) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.byAdvertised)
}
