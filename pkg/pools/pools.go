// Package pools provides buffer pooling for file reads.
//
// The planter reads catalogs block by block and the text field parser reads
// whole tree ranges; both reuse buffers from a size-class pool so scanning a
// multi-gigabyte catalog does not allocate per block:
//
//   - BytePool: size-class based byte slice pooling
package pools
