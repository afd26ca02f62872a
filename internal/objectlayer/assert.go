package objectlayer

var (
	_ ObjectLayer = (*SingleDiskLayer)(nil)
	_ ObjectLayer = (*ErasureLayer)(nil)
)
