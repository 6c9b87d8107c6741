package graph

// Mutation statements. Posts are identified by (did, rkey) and edges by
// (source did, edge rkey) within their relationship type. MERGE makes
// re-application a no-op and deletions match nothing the second time,
// so replayed events are harmless.
const (
	addPostQuery = `
MERGE (u:User {did: $did})
MERGE (p:Post {did: $did, rkey: $rkey})
SET p.createdAt = $createdAt, p.isReply = $isReply, p.isImage = $isImage`

	addReplyQuery = `
MERGE (child:Post {did: $did, rkey: $rkey})
MERGE (parent:Post {rkey: $parentRkey})
MERGE (child)-[:REPLIED_TO]->(parent)`

	addRepostQuery = `
MERGE (u:User {did: $did})
MERGE (p:Post {rkey: $targetRkey})
MERGE (u)-[:REPOSTED {rkey: $rkey}]->(p)`

	addLikeQuery = `
MERGE (u:User {did: $did})
MERGE (p:Post {rkey: $targetRkey})
MERGE (u)-[:LIKED {rkey: $rkey}]->(p)`

	addFollowsQuery = `
UNWIND $follows AS f
MERGE (u:User {did: f.did})
MERGE (v:User {did: f.out})
MERGE (u)-[:FOLLOWS {rkey: f.rkey}]->(v)`

	addBlocksQuery = `
UNWIND $blocks AS b
MERGE (u:User {did: b.did})
MERGE (v:User {did: b.out})
MERGE (u)-[:BLOCKS {rkey: b.rkey}]->(v)`

	rmPostQuery = `
MATCH (p:Post {did: $did, rkey: $rkey})
DETACH DELETE p`

	rmRepostQuery = `
MATCH (:User {did: $did})-[r:REPOSTED {rkey: $rkey}]->()
DELETE r`

	rmLikeQuery = `
MATCH (:User {did: $did})-[r:LIKED {rkey: $rkey}]->()
DELETE r`

	rmFollowQuery = `
MATCH (:User {did: $did})-[r:FOLLOWS {rkey: $rkey}]->()
DELETE r`

	rmBlockQuery = `
MATCH (:User {did: $did})-[r:BLOCKS {rkey: $rkey}]->()
DELETE r`

	purgeQuery = `
MATCH (p:Post)
WHERE p.createdAt < $cutoff
DETACH DELETE p`
)
