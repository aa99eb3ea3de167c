package builder

const proposalFields = `
    id
    proposalNumber
    dao { id name }
    title
    proposer
    timeCreated
    voteStart
    voteEnd
`

const queryNewProposals = `
query NewProposals($since: BigInt!) {
  proposals(
    skip: 0
    first: 100
    orderBy: timeCreated
    orderDirection: desc
    where: { timeCreated_gte: $since, queued: false, executed: false, canceled: false, vetoed: false }
  ) {` + proposalFields + `}
}`

const queryVotingProposals = `
query VotingProposals($since: BigInt!, $now: BigInt!) {
  proposals(
    skip: 0
    first: 100
    orderBy: voteStart
    orderDirection: asc
    where: { voteStart_gte: $since, voteStart_lte: $now, voteEnd_gt: $now, queued: false, executed: false, canceled: false, vetoed: false }
  ) {` + proposalFields + `}
}`

const queryEndingProposals = `
query EndingProposals($from: BigInt!, $to: BigInt!) {
  proposals(
    skip: 0
    first: 100
    orderBy: voteEnd
    orderDirection: asc
    where: { voteEnd_gte: $from, voteEnd_lte: $to, queued: false, executed: false, canceled: false, vetoed: false }
  ) {` + proposalFields + `}
}`

const queryProposalByID = `
query ProposalByID($id: ID!) {
  proposal(id: $id) {` + proposalFields + `}
}`

const queryDAOsForOwners = `
query DAOsForOwners($owners: [Bytes!]!) {
  owners: daotokenOwners(skip: 0, first: 1000, where: { owner_in: $owners }) {
    id
    owner
    dao { id name }
    daoTokenCount
  }
}`

const queryTokenOwners = `
query TokenOwners($skip: Int!, $first: Int!) {
  owners: daotokenOwners(
    skip: $skip
    first: $first
    orderBy: daoTokenCount
    orderDirection: desc
    subgraphError: deny
  ) {
    id
    owner
    dao { id name }
    daoTokenCount
  }
}`
