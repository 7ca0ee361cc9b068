package scene

// Fingerprint 场景指纹：所有元素 version 之和，缺省 version 按 0 计
// 与元素顺序无关；指纹相等不代表内容相等，只用于保存去重和补丁过期检测
func Fingerprint(elements []Element) int64 {
	var sum int64
	for _, el := range elements {
		sum += el.Version
	}
	return sum
}

// RollingHash 按遍历顺序对 versionNonce 做 djb2 (h*33 + nonce) 的 32 位滚动哈希
// 与 Fingerprint 不同，它依赖元素顺序。去重只看 Fingerprint，两者不要合并
func RollingHash(elements []Element) uint32 {
	var hash uint32 = 5381
	for _, el := range elements {
		hash = (hash << 5) + hash + el.VersionNonce
	}
	return hash
}
