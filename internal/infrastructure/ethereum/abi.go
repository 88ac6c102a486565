package ethereum

// Contract ABI fragments, trimmed to the functions and events the service
// actually calls. Encodings must stay in sync with the deployed contracts:
// flow status {0 Active, 1 Paused, 2 Completed, 3 Cancelled}, flow type
// {0 Milestone, 1 Split, 2 Recurring, 3 Escrow}.

const flowFactoryABI = `[
  {"type":"function","name":"createMilestoneFlow","stateMutability":"nonpayable","inputs":[{"name":"_mneeToken","type":"address"},{"name":"_initialDeposit","type":"uint256"}],"outputs":[{"name":"","type":"address"}]},
  {"type":"function","name":"createSplitFlow","stateMutability":"nonpayable","inputs":[{"name":"_mneeToken","type":"address"},{"name":"_initialDeposit","type":"uint256"}],"outputs":[{"name":"","type":"address"}]},
  {"type":"function","name":"createRecurringFlow","stateMutability":"nonpayable","inputs":[{"name":"_mneeToken","type":"address"},{"name":"_initialDeposit","type":"uint256"}],"outputs":[{"name":"","type":"address"}]},
  {"type":"function","name":"getFlowsByOwner","stateMutability":"view","inputs":[{"name":"_owner","type":"address"}],"outputs":[{"name":"","type":"address[]"}]},
  {"type":"function","name":"getFlowCount","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"event","name":"FlowCreated","anonymous":false,"inputs":[{"name":"flowAddress","type":"address","indexed":true},{"name":"owner","type":"address","indexed":true},{"name":"flowType","type":"uint256","indexed":false},{"name":"amount","type":"uint256","indexed":false}]}
]`

const paymentFlowABI = `[
  {"type":"function","name":"status","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
  {"type":"function","name":"totalAmount","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"remainingAmount","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"flowType","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
  {"type":"function","name":"owner","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
  {"type":"function","name":"getMilestoneCount","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"getSplitCount","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"milestones","stateMutability":"view","inputs":[{"name":"","type":"uint256"}],"outputs":[{"name":"milestoneId","type":"uint256"},{"name":"amount","type":"uint256"},{"name":"recipient","type":"address"},{"name":"completed","type":"bool"},{"name":"paid","type":"bool"}]},
  {"type":"function","name":"splits","stateMutability":"view","inputs":[{"name":"","type":"uint256"}],"outputs":[{"name":"recipient","type":"address"},{"name":"percentage","type":"uint256"}]},
  {"type":"function","name":"deposit","stateMutability":"nonpayable","inputs":[{"name":"_amount","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"addMilestone","stateMutability":"nonpayable","inputs":[{"name":"_amount","type":"uint256"},{"name":"_recipient","type":"address"}],"outputs":[]},
  {"type":"function","name":"addSplit","stateMutability":"nonpayable","inputs":[{"name":"_recipient","type":"address"},{"name":"_percentage","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"markMilestoneComplete","stateMutability":"nonpayable","inputs":[{"name":"_milestoneId","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"executeMilestonePayment","stateMutability":"nonpayable","inputs":[{"name":"_milestoneId","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"executeSplitPayment","stateMutability":"nonpayable","inputs":[],"outputs":[]},
  {"type":"function","name":"pause","stateMutability":"nonpayable","inputs":[],"outputs":[]},
  {"type":"function","name":"resume","stateMutability":"nonpayable","inputs":[],"outputs":[]},
  {"type":"function","name":"cancel","stateMutability":"nonpayable","inputs":[],"outputs":[]}
]`

const approvalManagerABI = `[
  {"type":"function","name":"createApproval","stateMutability":"nonpayable","inputs":[{"name":"_approvers","type":"address[]"},{"name":"_requiredApprovals","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"approve","stateMutability":"nonpayable","inputs":[{"name":"_approvalId","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"isApproved","stateMutability":"view","inputs":[{"name":"_approvalId","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"getApprovalStatus","stateMutability":"view","inputs":[{"name":"_approvalId","type":"uint256"}],"outputs":[{"name":"approvalCount","type":"uint256"},{"name":"requiredApprovals","type":"uint256"},{"name":"isApprovedStatus","type":"bool"}]},
  {"type":"function","name":"nextApprovalId","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"event","name":"ApprovalCreated","anonymous":false,"inputs":[{"name":"approvalId","type":"uint256","indexed":true},{"name":"approvers","type":"address[]","indexed":false},{"name":"requiredApprovals","type":"uint256","indexed":false}]},
  {"type":"event","name":"ApprovalGiven","anonymous":false,"inputs":[{"name":"approvalId","type":"uint256","indexed":true},{"name":"approver","type":"address","indexed":false}]},
  {"type":"event","name":"ApprovalThresholdMet","anonymous":false,"inputs":[{"name":"approvalId","type":"uint256","indexed":true}]}
]`

const mneeTokenABI = `[
  {"type":"function","name":"approve","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"allowance","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"decimals","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]}
]`
