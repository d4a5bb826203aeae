/*
Package hashinator implements partition routing of a distributed database.

Every key of a partitioned table is reduced to a 32-bit token with 128-bit
MurmurHash3, and the token is looked up on a consistent hashing ring which
maps ranges of tokens to partitions. The ring is explicit: it is a sorted list
of (token, partition) pairs, where each token owns positions from itself up to
the next token, and positions below the lowest token wrap around to the
highest one.

Rings are immutable. Elastic changes of the cluster, such as adding
partitions, produce new rings (see AddTokens and AddPartitions) which are
serialized (see RingConfig), distributed across the cluster by external
coordination and installed on every node by a Registry.

There are two serialized forms of a ring. The raw form is a plain array of
big-endian pairs. The cooked form stores byte planes of tokens followed by
partitions and is gzip compressed; it is the form used on the wire and in
snapshots.

Registry keeps the active ring of a node behind a single atomic pointer, so
routing never blocks on updates. Updates are ordered by version and the
highest version always wins, which lets racing updates converge without
errors.
*/
package hashinator
